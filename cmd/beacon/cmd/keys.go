// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ethersphere/beacon/cmd/internal/terminal"
	"github.com/ethersphere/beacon/pkg/crypto"
	"github.com/ethersphere/beacon/pkg/keystore"
	filekeystore "github.com/ethersphere/beacon/pkg/keystore/file"
	memkeystore "github.com/ethersphere/beacon/pkg/keystore/mem"
	"github.com/ethersphere/beacon/pkg/logging"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/spf13/cobra"
)

const libp2pKeyName = "libp2p"

var errMissingDataDir = errors.New("data directory not provided")

// nodeKey loads the libp2p identity key from the keystore under the data
// directory, creating it if it does not exist. Without a data directory the
// key lives only in memory.
func (c *command) nodeKey(cmd *cobra.Command, logger logging.Logger, dataDir string) (libp2pcrypto.PrivKey, error) {
	var (
		keystore keystore.Service
		password string
	)
	if dataDir == "" {
		keystore = memkeystore.New()
		logger.Warning("data directory not provided, keys are not persisted")
	} else {
		keystore = filekeystore.New(filepath.Join(dataDir, "keys"))

		var err error
		password, err = c.keyPassword(cmd, keystore)
		if err != nil {
			return nil, err
		}
	}

	key, created, err := keystore.Key(libp2pKeyName, password, crypto.EDGEd25519)
	if err != nil {
		return nil, fmt.Errorf("libp2p key: %w", err)
	}
	if created {
		logger.Infof("new libp2p key created")
	} else {
		logger.Debugf("using existing libp2p key")
	}
	return key, nil
}

func (c *command) keyPassword(cmd *cobra.Command, keystore keystore.Service) (password string, err error) {
	if p := c.config.GetString(optionNamePassword); p != "" {
		return p, nil
	}
	if f := c.config.GetString(optionNamePasswordFile); f != "" {
		return terminal.NewFilePasswordReader(f).ReadPassword()
	}

	exists, err := keystore.Exists(libp2pKeyName)
	if err != nil {
		return "", err
	}
	prompter := terminal.NewPasswordPrompter(
		terminal.WithPromptOut(cmd.OutOrStdout()),
		terminal.WithPromptPasswordReader(c.passwordReader),
	)
	if exists {
		return prompter.PromptPassword("Password: ")
	}

	cmd.Println("libp2p key does not exist and will be created")
	return terminal.NewPasswordConfirmer(
		terminal.WithConfirmOut(cmd.OutOrStdout()),
		terminal.WithConfirmPasswordPrompter(prompter),
	).PromptConfirmPassword("Password: ", "Confirm password: ")
}
