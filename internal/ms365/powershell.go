package ms365

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
)

const (
	// Exchange Online cmdlet runs are bounded; a window that large should be
	// split by the caller.
	scriptTimeout = 5 * time.Minute

	psTimeFormat = "2006-01-02T15:04:05Z"
)

// PowerShellClient pulls message traces by driving the ExchangeOnlineManagement
// module through a generated script. Used for tenants whose Graph message
// trace endpoint is not enabled. Requires pwsh (preferred) or powershell in
// PATH and the Exchange.ManageAsApp permission on the app registration.
type PowerShellClient struct {
	cfg Config
}

// NewPowerShellClient creates a PowerShell-backed client for one tenant.
func NewPowerShellClient(cfg Config) *PowerShellClient {
	return &PowerShellClient{cfg: cfg}
}

// Source identifies the field mapping for normalization.
func (c *PowerShellClient) Source() models.APIMethod {
	return models.APIMethodPowerShell
}

// Authenticate validates the local environment and tenant settings. The
// Exchange Online session itself is established inside each script run.
func (c *PowerShellClient) Authenticate(ctx context.Context) error {
	if _, err := findPowerShell(); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	if c.cfg.Organization == "" {
		return fmt.Errorf("%w: organization is required for PowerShell access (e.g. 'contoso.onmicrosoft.com')", ErrAuthenticationFailed)
	}
	switch c.cfg.AuthMethod {
	case models.AuthMethodSecret:
		if c.cfg.ClientSecret == "" {
			return fmt.Errorf("%w: client secret is required for PowerShell secret auth", ErrAuthenticationFailed)
		}
	default:
		if c.cfg.CertificateThumbprint == "" {
			return fmt.Errorf("%w: certificate thumbprint is required for PowerShell certificate auth", ErrAuthenticationFailed)
		}
	}

	log.Printf("[MS365] PowerShell client configuration validated for tenant %s", c.cfg.TenantID)
	return nil
}

// GetMessageTraces runs Get-MessageTraceV2 (falling back to the legacy
// Get-MessageTrace) for the given window and decodes the JSON output.
func (c *PowerShellClient) GetMessageTraces(ctx context.Context, start, end time.Time) ([]map[string]interface{}, error) {
	executable, err := findPowerShell()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	script := c.buildScript(start, end)

	scriptFile, err := os.CreateTemp("", "trace-pull-*.ps1")
	if err != nil {
		return nil, fmt.Errorf("%w: creating script file: %v", ErrUnexpectedResponse, err)
	}
	scriptPath := scriptFile.Name()
	defer os.Remove(scriptPath)

	if _, err := scriptFile.WriteString(script); err != nil {
		scriptFile.Close()
		return nil, fmt.Errorf("%w: writing script file: %v", ErrUnexpectedResponse, err)
	}
	if err := scriptFile.Close(); err != nil {
		return nil, fmt.Errorf("%w: writing script file: %v", ErrUnexpectedResponse, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, executable, "-NoProfile", "-NonInteractive", "-File", scriptPath)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: powershell run timed out after %s", ErrTransientNetwork, scriptTimeout)
		}
		message := strings.TrimSpace(stderr.String())
		if message == "" {
			message = strings.TrimSpace(stdout.String())
		}
		if message == "" {
			message = err.Error()
		}
		return nil, fmt.Errorf("%w: powershell error: %s", ErrUnexpectedResponse, truncateBody([]byte(message)))
	}

	output := strings.TrimSpace(stdout.String())
	if output == "" {
		log.Printf("[MS365] No message traces found for tenant %s in the given window", c.cfg.TenantID)
		return []map[string]interface{}{}, nil
	}

	traces, err := decodeTraceJSON(output)
	if err != nil {
		return nil, err
	}

	log.Printf("[MS365] Retrieved %d trace(s) via PowerShell for tenant %s", len(traces), c.cfg.TenantID)
	return traces, nil
}

// decodeTraceJSON handles both shapes ConvertTo-Json emits: an array for
// multiple traces and a bare object when only one matched.
func decodeTraceJSON(output string) ([]map[string]interface{}, error) {
	trimmed := strings.TrimSpace(output)

	if strings.HasPrefix(trimmed, "{") {
		var single map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &single); err != nil {
			return nil, fmt.Errorf("%w: invalid JSON from powershell: %v", ErrUnexpectedResponse, err)
		}
		return []map[string]interface{}{single}, nil
	}

	var traces []map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &traces); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON from powershell: %v", ErrUnexpectedResponse, err)
	}
	return traces, nil
}

func (c *PowerShellClient) buildScript(start, end time.Time) string {
	startStr := start.UTC().Format(psTimeFormat)
	endStr := end.UTC().Format(psTimeFormat)

	traceCmd := fmt.Sprintf(
		"Get-MessageTraceV2 -StartDate %s -EndDate %s -PageSize %d -ErrorAction Stop | "+
			"Select-Object MessageId, Received, SenderAddress, RecipientAddress, Subject, Status, ToIP, FromIP, Size, MessageTraceId",
		psQuote(startStr), psQuote(endStr), c.cfg.PageSize)
	legacyCmd := strings.Replace(traceCmd, "Get-MessageTraceV2", "Get-MessageTrace", 1)

	var b strings.Builder
	b.WriteString("$ErrorActionPreference = \"Stop\"\n\n")
	b.WriteString("try {\n")
	b.WriteString("    Import-Module ExchangeOnlineManagement -ErrorAction Stop\n\n")

	if c.cfg.AuthMethod == models.AuthMethodSecret {
		fmt.Fprintf(&b, "    $secureSecret = ConvertTo-SecureString -String %s -AsPlainText -Force\n", psQuote(c.cfg.ClientSecret))
		fmt.Fprintf(&b, "    $credential = New-Object System.Management.Automation.PSCredential(%s, $secureSecret)\n", psQuote(c.cfg.ClientID))
		fmt.Fprintf(&b, "    Connect-ExchangeOnline -AppId %s -Organization %s -Credential $credential -ShowBanner:$false\n\n",
			psQuote(c.cfg.ClientID), psQuote(c.cfg.Organization))
	} else {
		fmt.Fprintf(&b, "    Connect-ExchangeOnline -CertificateThumbprint %s -AppId %s -Organization %s -ShowBanner:$false\n\n",
			psQuote(c.cfg.CertificateThumbprint), psQuote(c.cfg.ClientID), psQuote(c.cfg.Organization))
	}

	b.WriteString("    $traces = @()\n")
	b.WriteString("    try {\n")
	fmt.Fprintf(&b, "        $traces = %s\n", traceCmd)
	b.WriteString("    }\n")
	b.WriteString("    catch {\n")
	b.WriteString("        Write-Warning \"Get-MessageTraceV2 not available, using Get-MessageTrace\"\n")
	fmt.Fprintf(&b, "        $traces = %s\n", legacyCmd)
	b.WriteString("    }\n\n")
	b.WriteString("    $traces | ConvertTo-Json -Depth 10 -Compress\n\n")
	b.WriteString("    Disconnect-ExchangeOnline -Confirm:$false -ErrorAction SilentlyContinue\n")
	b.WriteString("}\n")
	b.WriteString("catch {\n")
	b.WriteString("    Write-Error $_.Exception.Message\n")
	b.WriteString("    exit 1\n")
	b.WriteString("}\n")

	return b.String()
}

// psQuote wraps a value in PowerShell single quotes, which take the contents
// literally apart from doubled quotes.
func psQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// findPowerShell prefers PowerShell 7 over Windows PowerShell.
func findPowerShell() (string, error) {
	for _, name := range []string{"pwsh", "powershell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", errors.New("no PowerShell executable found in PATH, install PowerShell 7")
}
