package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	knownSeed = "7f3a9c2e5b1d4086a2c4e6f8091b3d5f7a9cbedf1032547698badcfe13579bdf"
	knownHash = "df78fa6c52dae1dce4181d5db707f7a0970527323fb6b78677fced4a8f578b83"
)

func TestVerifyRawValues(t *testing.T) {
	base := []string{"--seed", knownSeed, "--hash", knownHash, "--entropy", "entropy-56947"}

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"all values", append(base, "--roll", "28441", "--target", "32768"), false},
		{"roll omitted", append(base, "--target", "32768"), true},
		{"target omitted", append(base, "--roll", "28441"), true},
		{"zero roll given explicitly", append(base, "--roll", "0", "--target", "32768"), false},
		{"nothing", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := verifyCmd()
			cmd.SetArgs(tt.args)
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true
			err := cmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
