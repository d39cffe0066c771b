package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"appboot/config"
)

// EnsureDirectories creates the directories the sequence writes into and
// verifies they are writable. This is a pre-flight check that runs before
// any step.
func EnsureDirectories(cfg *config.Config, sugar *zap.SugaredLogger) error {
	directoriesToCreate := []string{cfg.DataPaths.DataDir, cfg.Static.Root}

	for _, dir := range directoriesToCreate {
		absPath, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("failed to resolve absolute path for %s: %w", dir, err)
		}

		if err := os.MkdirAll(absPath, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w\n"+
				"  Remediation: Ensure the parent directory exists and is writable\n"+
				"  For Docker: Check volume mount permissions\n"+
				"  For bare metal: Run 'mkdir -p %s && chmod 755 %s'", dir, err, absPath, absPath)
		}

		// Verify write permissions
		testFile := filepath.Join(absPath, ".appboot_write_test")
		if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
			return fmt.Errorf("directory %s is not writable: %w\n"+
				"  Remediation: Check file system permissions\n"+
				"  For Docker: Ensure volume is mounted with write access\n"+
				"  For bare metal: Run 'chmod -R u+w %s'", dir, err, absPath)
		}
		os.Remove(testFile)

		sugar.Infow("Directory ready", "path", absPath)
	}

	sugar.Info("All directories verified")
	return nil
}

// ClassifyConnectionError provides specific error messages based on the
// type of database connection failure.
func ClassifyConnectionError(err error, driver, addr string) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Sprintf("Connection to the %s database at %s timed out.\n"+
				"  Possible causes:\n"+
				"  - The database is still starting up (wait and retry)\n"+
				"  - Network latency or firewall blocking the connection\n"+
				"  - The database is overloaded\n"+
				"  Remediation:\n"+
				"  - Check the database container: docker ps\n"+
				"  - Verify network connectivity: nc -zv %s", driver, addr, addr)
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			if errors.Is(opErr.Err, syscall.ECONNREFUSED) ||
				(opErr.Err != nil && (containsIgnoreCase(opErr.Err.Error(), "connection refused") ||
					containsIgnoreCase(opErr.Err.Error(), "actively refused"))) {
				return fmt.Sprintf("Connection refused by the %s database at %s.\n"+
					"  This usually means the database is not running.\n"+
					"  Remediation:\n"+
					"  - Start the database: docker compose up -d db\n"+
					"  - Check its logs: docker logs <db-container>\n"+
					"  - Verify the address in appboot.yaml or APPBOOT_DB_HOST/APPBOOT_DB_PORT", driver, addr)
			}
		}
	}

	if containsIgnoreCase(errStr, "no such host") || containsIgnoreCase(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve hostname in database address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Check DNS configuration\n"+
			"  - Try using an IP address instead of a hostname", addr)
	}

	if containsIgnoreCase(errStr, "access denied") || containsIgnoreCase(errStr, "authentication") ||
		containsIgnoreCase(errStr, "password") {
		return fmt.Sprintf("Authentication failed for the %s database at %s.\n"+
			"  Remediation:\n"+
			"  - Verify APPBOOT_DB_USER and APPBOOT_DB_PASSWORD\n"+
			"  - Check the configured secrets provider (secrets.provider)", driver, addr)
	}

	return fmt.Sprintf("Failed to connect to the %s database at %s: %v\n"+
		"  Remediation:\n"+
		"  - Verify the database is running and reachable\n"+
		"  - Check driver, host, port and credentials in the configuration", driver, addr, err)
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
