package migrate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"splicestore/pkg/domain"
)

// Compile-time contract assertion ensuring the hook runner satisfies the admin interface.
var _ LedgerAdmin = (*ScriptAdmin)(nil)

// ScriptAdmin implements LedgerAdmin by invoking operator-provided hook
// executables, one per administration step. Hooks receive step parameters as
// environment variables and bulk payloads on stdin. An empty hook path skips
// the step, which lets operators wire only the subset their participant
// needs.
type ScriptAdmin struct {
	// Hook paths, each an executable. Empty entries are skipped.
	DisconnectHook string
	UploadDarHook  string
	RegisterHook   string
	ImportAcsHook  string
	ConnectHook    string

	// Env is appended to the process environment for every hook.
	Env []string
}

func (s *ScriptAdmin) run(ctx context.Context, hook string, stdin io.Reader, env ...string) error {
	if hook == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, hook)
	cmd.Env = append(append(os.Environ(), s.Env...), env...)
	cmd.Stdin = stdin
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(out.String())
		if msg != "" {
			return fmt.Errorf("hook %s: %w: %s", hook, err, msg)
		}
		return fmt.Errorf("hook %s: %w", hook, err)
	}
	return nil
}

// DisconnectAllDomains implements LedgerAdmin.
func (s *ScriptAdmin) DisconnectAllDomains(ctx context.Context) error {
	return s.run(ctx, s.DisconnectHook, nil)
}

// UploadDarPackage implements LedgerAdmin, streaming the DAR on stdin.
func (s *ScriptAdmin) UploadDarPackage(ctx context.Context, name string, dar io.Reader) error {
	return s.run(ctx, s.UploadDarHook, dar, "SPLICESTORE_DAR_NAME="+name)
}

// RegisterDomain implements LedgerAdmin.
func (s *ScriptAdmin) RegisterDomain(ctx context.Context, domainID domain.DomainID, sequencerConnections []string) error {
	return s.run(ctx, s.RegisterHook, nil,
		"SPLICESTORE_DOMAIN_ID="+string(domainID),
		"SPLICESTORE_SEQUENCER_CONNECTIONS="+strings.Join(sequencerConnections, ","))
}

// ImportAcsSnapshot implements LedgerAdmin, streaming the snapshot on stdin.
func (s *ScriptAdmin) ImportAcsSnapshot(ctx context.Context, snapshot io.Reader) error {
	return s.run(ctx, s.ImportAcsHook, snapshot)
}

// ConnectDomain implements LedgerAdmin.
func (s *ScriptAdmin) ConnectDomain(ctx context.Context, domainID domain.DomainID) error {
	return s.run(ctx, s.ConnectHook, nil, "SPLICESTORE_DOMAIN_ID="+string(domainID))
}
