// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// driftwood-dm is a developer tool for working with direct message
// events offline: generating identity key material, sealing messages
// into signed events, opening received events, and inspecting event
// envelopes without decrypting them.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/driftwood-chat/driftwood/event"
	"github.com/driftwood-chat/driftwood/identity"
	"github.com/driftwood-chat/driftwood/lib/config"
	"github.com/driftwood-chat/driftwood/lib/version"
	"github.com/driftwood-chat/driftwood/protocol"
)

const usage = `driftwood-dm — direct message developer tool

Usage:
  driftwood-dm keygen  [--signing-key-file F --sealed-key-file F]
  driftwood-dm card    <identity flags>
  driftwood-dm seal    <identity flags> --peer-card F --to KEY [--protocol p] <message>
  driftwood-dm open    <identity flags> [--peer-card F] [--event F]
  driftwood-dm inspect [--event F]
  driftwood-dm version

Identity flags (either form):
  --config FILE                      read key file paths from a config file
  --signing-key-file F --sealed-key-file F

Events are read from --event or stdin, one JSON object per invocation.
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	var err error
	switch args[0] {
	case "keygen":
		err = runKeygen(args[1:])
	case "card":
		err = runCard(args[1:])
	case "seal":
		err = runSeal(args[1:])
	case "open":
		err = runOpen(args[1:])
	case "inspect":
		err = runInspect(args[1:])
	case "version", "--version":
		fmt.Printf("driftwood-dm %s\n", version.Info())
	case "help", "--help", "-h":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// identityFlags binds the flags every identity-loading subcommand
// shares and loads the identity from whichever source was given.
type identityFlags struct {
	configPath     string
	signingKeyFile string
	sealedKeyFile  string
}

func (f *identityFlags) bind(flags *pflag.FlagSet) {
	flags.StringVar(&f.configPath, "config", "", "config file naming the identity key files")
	flags.StringVar(&f.signingKeyFile, "signing-key-file", "", "hex-encoded signing seed file")
	flags.StringVar(&f.sealedKeyFile, "sealed-key-file", "", "age secret key file")
}

func (f *identityFlags) load() (*identity.Local, error) {
	signingPath := f.signingKeyFile
	sealedPath := f.sealedKeyFile
	if f.configPath != "" {
		cfg, err := config.LoadFile(f.configPath)
		if err != nil {
			return nil, err
		}
		signingPath = cfg.Identity.SigningKeyFile
		sealedPath = cfg.Identity.SealedKeyFile
	}
	if signingPath == "" || sealedPath == "" {
		return nil, fmt.Errorf("identity key files required: pass --config or both --signing-key-file and --sealed-key-file")
	}
	seed, err := os.ReadFile(signingPath)
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	sealed, err := os.ReadFile(sealedPath)
	if err != nil {
		return nil, fmt.Errorf("reading sealed key: %w", err)
	}
	return identity.Load(strings.TrimSpace(string(seed)), strings.TrimSpace(string(sealed)))
}

func runKeygen(args []string) error {
	flags := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	signingOut := flags.String("signing-key-file", "", "write the signing seed here instead of stdout")
	sealedOut := flags.String("sealed-key-file", "", "write the age secret key here instead of stdout")
	if err := flags.Parse(args); err != nil {
		return err
	}

	local, err := identity.Generate()
	if err != nil {
		return err
	}
	defer local.Close()

	card, err := identity.ProfileContent(local.Card())
	if err != nil {
		return err
	}
	fmt.Printf("identity: %s\ncard: %s\n", local.PublicKey(), card)

	if *signingOut != "" {
		if err := os.WriteFile(*signingOut, []byte(local.ExportSigningSeed()+"\n"), 0o600); err != nil {
			return fmt.Errorf("writing signing key: %w", err)
		}
	} else {
		fmt.Printf("signing seed: %s\n", local.ExportSigningSeed())
	}
	if *sealedOut != "" {
		if err := os.WriteFile(*sealedOut, []byte(local.ExportSealKey()+"\n"), 0o600); err != nil {
			return fmt.Errorf("writing sealed key: %w", err)
		}
	} else {
		fmt.Printf("seal key: %s\n", local.ExportSealKey())
	}
	return nil
}

func runCard(args []string) error {
	flags := pflag.NewFlagSet("card", pflag.ContinueOnError)
	var idFlags identityFlags
	idFlags.bind(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	local, err := idFlags.load()
	if err != nil {
		return err
	}
	defer local.Close()
	card, err := identity.ProfileContent(local.Card())
	if err != nil {
		return err
	}
	fmt.Println(card)
	return nil
}

func runSeal(args []string) error {
	flags := pflag.NewFlagSet("seal", pflag.ContinueOnError)
	var idFlags identityFlags
	idFlags.bind(flags)
	peerCardPath := flags.String("peer-card", "", "JSON card file of the recipient")
	protocolName := flags.String("protocol", "sealed", "wire protocol: plain or sealed")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("seal takes exactly one message argument")
	}
	if *peerCardPath == "" {
		return fmt.Errorf("--peer-card is required")
	}

	local, err := idFlags.load()
	if err != nil {
		return err
	}
	defer local.Close()
	card, err := readCard(*peerCardPath)
	if err != nil {
		return err
	}
	if err := local.AddPeer(card); err != nil {
		return err
	}

	builder := protocol.NewBuilder(local, nil)
	var raw event.Raw
	switch *protocolName {
	case "plain":
		raw, err = builder.BuildPlain(card.Identity, flags.Arg(0))
	case "sealed":
		raw, err = builder.BuildSealed(card.Identity, flags.Arg(0))
	default:
		return fmt.Errorf("unknown protocol %q: want plain or sealed", *protocolName)
	}
	if err != nil {
		return err
	}
	return printJSON(raw)
}

func runOpen(args []string) error {
	flags := pflag.NewFlagSet("open", pflag.ContinueOnError)
	var idFlags identityFlags
	idFlags.bind(flags)
	peerCardPath := flags.String("peer-card", "", "JSON card file of the counterparty (required for plain messages)")
	eventPath := flags.String("event", "", "event JSON file (default stdin)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	local, err := idFlags.load()
	if err != nil {
		return err
	}
	defer local.Close()
	if *peerCardPath != "" {
		card, err := readCard(*peerCardPath)
		if err != nil {
			return err
		}
		if err := local.AddPeer(card); err != nil {
			return err
		}
	}

	raw, err := readEvent(*eventPath)
	if err != nil {
		return err
	}
	message, err := protocol.NewDecoder(local).Decode(raw)
	if err != nil {
		return err
	}
	if message.Unreadable {
		return fmt.Errorf("message %s is unreadable: %s", message.ID, message.FailureReason)
	}
	fmt.Printf("id: %s\nprotocol: %s\nsender: %s\nconversation: %s\ntimestamp: %d\n\n%s\n",
		message.ID, message.Source, message.Sender, message.ConversationKey,
		message.Timestamp, message.Plaintext)
	return nil
}

func runInspect(args []string) error {
	flags := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	eventPath := flags.String("event", "", "event JSON file (default stdin)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	raw, err := readEvent(*eventPath)
	if err != nil {
		return err
	}
	fmt.Printf("id: %s\nauthor: %s\nkind: %d\ncreated_at: %d\nrecipient: %s\ncontent: %d bytes\n",
		raw.ID, raw.Author, raw.Kind, raw.CreatedAt, raw.Recipient().Short(), len(raw.Content))
	if err := event.Validate(raw); err != nil {
		fmt.Printf("valid: no (%v)\n", err)
		return nil
	}
	fmt.Println("valid: yes")
	if err := event.Verify(raw); err != nil {
		fmt.Printf("signature: bad (%v)\n", err)
		return nil
	}
	fmt.Println("signature: ok")
	return nil
}

func readCard(path string) (identity.Card, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return identity.Card{}, fmt.Errorf("reading peer card: %w", err)
	}
	var card identity.Card
	if err := json.Unmarshal(data, &card); err != nil {
		return identity.Card{}, fmt.Errorf("parsing peer card: %w", err)
	}
	return card, nil
}

func readEvent(path string) (event.Raw, error) {
	var data []byte
	var err error
	if path == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return event.Raw{}, fmt.Errorf("reading event: %w", err)
	}
	var raw event.Raw
	if err := json.Unmarshal(data, &raw); err != nil {
		return event.Raw{}, fmt.Errorf("parsing event JSON: %w", err)
	}
	return raw, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
