// Package register implements the interactive flows: linking aggregator
// accounts to ledger files, and obtaining API tokens. Prompts run over
// injected reader/writer so the flows are testable.
package register

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ledgersync/ledgersync/internal/adapters/aggregator"
	"github.com/ledgersync/ledgersync/internal/infrastructure/config"
)

// redirectURL is where the institution sends the user after consent. The
// tool polls the requisition instead of serving this address.
const redirectURL = "http://localhost/success"

// Client is the slice of the aggregator client the flows need.
type Client interface {
	Institutions(ctx context.Context, country string) ([]aggregator.Institution, error)
	CreateRequisition(ctx context.Context, institutionID, redirect string) (aggregator.Requisition, error)
	Requisition(ctx context.Context, id string) (aggregator.Requisition, error)
	NewToken(ctx context.Context, secretID, secretKey string) (aggregator.TokenPair, error)
}

// Flow drives the interactive prompts.
type Flow struct {
	client   Client
	registry *config.Registry
	in       *bufio.Reader
	out      io.Writer
}

// NewFlow creates a flow reading prompts from in and writing to out.
func NewFlow(client Client, registry *config.Registry, in io.Reader, out io.Writer) *Flow {
	return &Flow{
		client:   client,
		registry: registry,
		in:       bufio.NewReader(in),
		out:      out,
	}
}

// RegisterAccounts walks the user through institution selection, end-user
// authorization, and mapping each linked account onto a ledger file and
// account path. The registry is persisted at the end.
func (f *Flow) RegisterAccounts(ctx context.Context) error {
	country := ""
	for len(country) != 2 {
		line, err := f.prompt("Country code (default: GB): ")
		if err != nil {
			return err
		}
		if line == "" {
			line = "GB"
		}
		country = line
	}

	institutions, err := f.client.Institutions(ctx, country)
	if err != nil {
		return err
	}
	for _, inst := range institutions {
		fmt.Fprintf(f.out, "%s: %s\n", inst.ID, inst.Name)
	}

	institutionID, err := f.prompt("Institution ID: ")
	if err != nil {
		return err
	}

	req, err := f.client.CreateRequisition(ctx, institutionID, redirectURL)
	if err != nil {
		return err
	}
	fmt.Fprintln(f.out, "Navigate to:", req.Link)

	for {
		line, err := f.prompt("Enter 'y' when complete: ")
		if err != nil {
			return err
		}
		if strings.EqualFold(strings.TrimSpace(line), "y") {
			break
		}
	}

	req, err = f.client.Requisition(ctx, req.ID)
	if err != nil {
		return err
	}

	for _, accountID := range req.Accounts {
		ledgerFile, err := f.chooseLedgerFile(accountID)
		if err != nil {
			return err
		}
		accountPath, err := f.prompt("Enter ledger account (e.g. Assets.Current Account): ")
		if err != nil {
			return err
		}
		f.registry.SetAccount(ledgerFile, accountID, accountPath, aggregator.DateKeyBooking)
	}

	return f.registry.Save()
}

// chooseLedgerFile offers the already-known ledger files, or a new path.
func (f *Flow) chooseLedgerFile(accountID string) (string, error) {
	files := f.registry.LedgerFiles()

	fmt.Fprintf(f.out, "\nSelect ledger file for %s:\n", accountID)
	for i, path := range files {
		fmt.Fprintf(f.out, " %d - %s\n", i+1, path)
	}
	fmt.Fprintln(f.out, " 0 - Enter new path")

	selection := -1
	for selection < 0 || selection > len(files) {
		line, err := f.prompt("> ")
		if err != nil {
			return "", err
		}
		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			continue
		}
		selection = n
	}

	if selection == 0 {
		return f.prompt("Enter file path: ")
	}
	return files[selection-1], nil
}

// FetchToken obtains a new token pair from (possibly updated) secrets and
// persists both the secrets and the refresh token.
func (f *Flow) FetchToken(ctx context.Context) error {
	storedID, storedKey, _ := f.registry.Credentials()

	secretID, err := f.promptWithDefault("Secret ID", storedID)
	if err != nil {
		return err
	}
	secretKey, err := f.promptWithDefault("Secret Key", storedKey)
	if err != nil {
		return err
	}

	f.registry.SetSecrets(secretID, secretKey)
	if _, err := f.client.NewToken(ctx, secretID, secretKey); err != nil {
		return err
	}
	return f.registry.Save()
}

func (f *Flow) prompt(text string) (string, error) {
	fmt.Fprint(f.out, text)
	line, err := f.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("input closed: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (f *Flow) promptWithDefault(label, fallback string) (string, error) {
	text := label + ": "
	if fallback != "" {
		text = fmt.Sprintf("%s (%s): ", label, fallback)
	}
	line, err := f.prompt(text)
	if err != nil {
		return "", err
	}
	if line == "" {
		return fallback, nil
	}
	return line, nil
}
