package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestValidateConfig(t *testing.T) {
	valid := config{
		PublicEndpoint: "http://localhost:4000",
		SendInterval:   time.Millisecond * 10,
	}

	tests := []struct {
		name    string
		update  func(c *config)
		isValid bool
	}{
		{
			name:    "valid",
			update:  func(c *config) {},
			isValid: true,
		},
		{
			name: "invalid public endpoint",
			update: func(c *config) {
				c.PublicEndpoint = "localhost"
			},
		},
		{
			name: "both private key sources",
			update: func(c *config) {
				c.PrivateKey = "abc"
				c.PrivateKeyFile = "key.txt"
			},
		},
		{
			name: "both jurisdiction sources",
			update: func(c *config) {
				c.JurisdictionFile = "jurisdiction.ini"
				c.JurisdictionRoot = "0140"
			},
		},
		{
			name: "end nodes without root",
			update: func(c *config) {
				c.JurisdictionEndNodes = "0140"
			},
		},
		{
			name: "jurisdiction root",
			update: func(c *config) {
				c.JurisdictionRoot = "0140"
				c.JurisdictionEndNodes = "0248"
			},
			isValid: true,
		},
		{
			name: "zero send interval",
			update: func(c *config) {
				c.SendInterval = 0
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			conf := valid
			test.update(&conf)

			err := validateConfig(conf)
			if test.isValid {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}
}

func TestLoadPrivateKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hex := hexutil.Encode(crypto.FromECDSA(key))

	t.Run("from config", func(t *testing.T) {
		k, err := loadPrivateKey(config{PrivateKey: hex})
		require.NoError(t, err)
		require.Equal(t, key.D, k.D)
	})

	t.Run("from file", func(t *testing.T) {
		filename := filepath.Join(t.TempDir(), "key.txt")
		require.NoError(t, os.WriteFile(filename, []byte(hex+"\n"), 0o600))

		k, err := loadPrivateKey(config{PrivateKeyFile: filename})
		require.NoError(t, err)
		require.Equal(t, key.D, k.D)
	})

	t.Run("ephemeral", func(t *testing.T) {
		k, err := loadPrivateKey(config{})
		require.NoError(t, err)
		require.NotNil(t, k)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadPrivateKey(config{PrivateKeyFile: filepath.Join(t.TempDir(), "missing")})
		require.Error(t, err)
	})
}

func TestLoadJurisdiction(t *testing.T) {
	j, err := loadJurisdiction(config{})
	require.NoError(t, err)
	require.False(t, j.HasRoot())

	j, err = loadJurisdiction(config{JurisdictionRoot: "0140"})
	require.NoError(t, err)
	require.True(t, j.HasRoot())

	_, err = loadJurisdiction(config{JurisdictionRoot: "zz"})
	require.Error(t, err)
}
