package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"luxmarket/cmd/internal/passphrase"
	"luxmarket/crypto"
)

const keystorePassEnv = "LUX_KEYSTORE_PASS"

type addressOutput struct {
	Hex    string `json:"hex"`
	Bech32 string `json:"bech32"`
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	out := fs.String("out", "", "path of the keystore to create")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*out) == "" {
		return printError(stderr, "--out is required")
	}
	pass, err := passphrase.NewSource(keystorePassEnv).WithConfirmation().Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		return printError(stderr, err.Error())
	}
	return writeJSON(stdout, stderr, addressOf(key))
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	keystore := fs.String("keystore", "", "keystore to read the address from")
	raw := fs.String("address", "", "hex or bech32 address to convert")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	switch {
	case *raw != "":
		addr, err := crypto.ParseAddress(*raw)
		if err != nil {
			return printError(stderr, err.Error())
		}
		return writeJSON(stdout, stderr, addressOutput{Hex: addr.Hex(), Bech32: crypto.FromCommon(addr).String()})
	case *keystore != "":
		key, err := openKeystore(*keystore)
		if err != nil {
			return printError(stderr, err.Error())
		}
		return writeJSON(stdout, stderr, addressOf(key))
	default:
		return printError(stderr, "--keystore or --address is required")
	}
}

func openKeystore(path string) (*crypto.PrivateKey, error) {
	pass, err := passphrase.NewSource(keystorePassEnv).Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("open keystore %s: %w", path, err)
	}
	return key, nil
}

func addressOf(key *crypto.PrivateKey) addressOutput {
	pub := key.PubKey()
	return addressOutput{Hex: pub.Account().Hex(), Bech32: pub.Address().String()}
}

func writeJSON(stdout, stderr io.Writer, v interface{}) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return printError(stderr, err.Error())
	}
	return 0
}
