// Command airc-keygen generates or recovers the client-side key
// material of a handle: a BIP-39 mnemonic, the operational signing
// keypair and the recovery keypair derived from it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"airc-chat/go-backend/internal/airc"
)

type output struct {
	Mnemonic           string `json:"mnemonic"`
	SigningPublicKey   string `json:"signing_public_key"`
	RecoveryPublicKey  string `json:"recovery_public_key"`
	SigningFingerprint string `json:"signing_fingerprint"`
}

func main() {
	mnemonic := flag.String("mnemonic", "", "Recover keys from an existing mnemonic instead of generating one")
	asJSON := flag.Bool("json", false, "Emit machine-readable JSON")
	flag.Parse()

	phrase := *mnemonic
	if phrase == "" {
		var err error
		phrase, err = airc.NewMnemonic()
		if err != nil {
			log.Fatalf("generate mnemonic: %v", err)
		}
	}

	material, err := airc.DeriveKeyMaterial(phrase)
	if err != nil {
		log.Fatalf("derive keys: %v", err)
	}

	signingWire := airc.FormatPublicKey(material.SigningPublicKey)
	out := output{
		Mnemonic:           phrase,
		SigningPublicKey:   signingWire,
		RecoveryPublicKey:  airc.FormatPublicKey(material.RecoveryPublicKey),
		SigningFingerprint: airc.Fingerprint(signingWire),
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			log.Fatalf("encode output: %v", err)
		}
		return
	}

	fmt.Println("Write the mnemonic down and keep it offline. It recovers both keys.")
	fmt.Println()
	fmt.Printf("mnemonic:            %s\n", out.Mnemonic)
	fmt.Printf("signing public key:  %s\n", out.SigningPublicKey)
	fmt.Printf("recovery public key: %s\n", out.RecoveryPublicKey)
	fmt.Printf("signing fingerprint: %s\n", out.SigningFingerprint)
}
