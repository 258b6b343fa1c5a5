package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Wheezy72/nuru-ERP-sub001/internal/ledger"
	"github.com/Wheezy72/nuru-ERP-sub001/internal/matcher"
	"github.com/Wheezy72/nuru-ERP-sub001/internal/parsers"
	"github.com/Wheezy72/nuru-ERP-sub001/internal/reconciler"
	"github.com/Wheezy72/nuru-ERP-sub001/internal/reporter"
	"github.com/Wheezy72/nuru-ERP-sub001/internal/store"
)

// Flags for the reconcile command
var (
	statementFile   string
	tenantID        string
	dryRun          bool
	amountTolerance string
	invoicesFile    string
	databaseURL     string
	ledgerFile      string
	outputFormat    string
	outputFile      string
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile a payment statement against open invoices",
	Long: `Reconcile parses a mobile-money statement (CSV or XLSX), matches each
row against the tenant's open invoices, and posts allocations for
unambiguous matches. Rows that were already reconciled are skipped,
ambiguous rows are reported with their candidates, and malformed rows
are preserved in the report.

Invoices come either from a CSV fixture file (--invoices-file) or from
Postgres (--database-url). With Postgres the dedup ledger lives in the
same database; otherwise --ledger-file keeps it on disk.

Examples:
  # Reconcile against a CSV invoice fixture
  reconciler reconcile --statement-file statement.csv --tenant acme \
    --invoices-file invoices.csv --ledger-file ledger.json

  # Reconcile against Postgres, preview only
  reconciler reconcile --statement-file statement.xlsx --tenant acme \
    --database-url postgres://localhost/erp --dry-run

  # Tolerate small mismatches on the phone+amount stage
  reconciler reconcile --statement-file stmt.csv --tenant acme \
    --invoices-file invoices.csv --amount-tolerance 0.50 \
    --output-format json --output-file report.json`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	// Required flags
	reconcileCmd.Flags().StringVarP(&statementFile, "statement-file", "s", "", "path to statement file, CSV or XLSX (required)")
	reconcileCmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant whose invoices are reconciled (required)")

	// Data source flags
	reconcileCmd.Flags().StringVar(&invoicesFile, "invoices-file", "", "path to invoice fixture CSV")
	reconcileCmd.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string")
	reconcileCmd.Flags().StringVar(&ledgerFile, "ledger-file", "", "path to the dedup ledger file (file-backed mode)")

	// Matching flags
	reconcileCmd.Flags().StringVarP(&amountTolerance, "amount-tolerance", "a", "0", "absolute amount tolerance for phone+amount matching")
	reconcileCmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate the run without posting or ledger writes")

	// Output flags
	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")

	// Mark required flags
	reconcileCmd.MarkFlagRequired("statement-file")
	reconcileCmd.MarkFlagRequired("tenant")

	// Bind flags to viper
	viper.BindPFlag("statement-file", reconcileCmd.Flags().Lookup("statement-file"))
	viper.BindPFlag("tenant", reconcileCmd.Flags().Lookup("tenant"))
	viper.BindPFlag("invoices-file", reconcileCmd.Flags().Lookup("invoices-file"))
	viper.BindPFlag("database-url", reconcileCmd.Flags().Lookup("database-url"))
	viper.BindPFlag("ledger-file", reconcileCmd.Flags().Lookup("ledger-file"))
	viper.BindPFlag("amount-tolerance", reconcileCmd.Flags().Lookup("amount-tolerance"))
	viper.BindPFlag("dry-run", reconcileCmd.Flags().Lookup("dry-run"))
	viper.BindPFlag("output-format", reconcileCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output-file", reconcileCmd.Flags().Lookup("output-file"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file and env)
	statementFile = viper.GetString("statement-file")
	tenantID = viper.GetString("tenant")
	invoicesFile = viper.GetString("invoices-file")
	databaseURL = viper.GetString("database-url")
	ledgerFile = viper.GetString("ledger-file")
	amountTolerance = viper.GetString("amount-tolerance")
	dryRun = viper.GetBool("dry-run")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")

	if statementFile == "" {
		return fmt.Errorf("statement-file is required")
	}
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("tenant is required")
	}
	if err := validateFileExists(statementFile, "statement file"); err != nil {
		return err
	}

	// Exactly one invoice source must be configured.
	if invoicesFile == "" && databaseURL == "" {
		return fmt.Errorf("either invoices-file or database-url is required")
	}
	if invoicesFile != "" && databaseURL != "" {
		return fmt.Errorf("invoices-file and database-url are mutually exclusive")
	}
	if invoicesFile != "" {
		if err := validateFileExists(invoicesFile, "invoice fixture file"); err != nil {
			return err
		}
	}
	if databaseURL != "" && ledgerFile != "" {
		return fmt.Errorf("ledger-file is unused when database-url is set; the ledger lives in Postgres")
	}

	if _, err := decimal.NewFromString(amountTolerance); err != nil {
		return fmt.Errorf("invalid amount-tolerance %q: %w", amountTolerance, err)
	}

	if !reporter.OutputFormat(outputFormat).IsValid() {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", outputFormat)
	}

	// Validate output file directory exists if specified
	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("output directory does not exist: %s", dir)
			}
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Starting reconciliation...\n")
		fmt.Fprintf(os.Stderr, "Statement file: %s\n", statementFile)
		fmt.Fprintf(os.Stderr, "Tenant: %s\n", tenantID)
		if dryRun {
			fmt.Fprintf(os.Stderr, "Mode: dry run\n")
		}
	}

	statement, err := loadStatement(statementFile)
	if err != nil {
		return err
	}

	invoices, dedup, cleanup, err := buildBackends(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	tolerance, err := decimal.NewFromString(amountTolerance)
	if err != nil {
		return fmt.Errorf("invalid amount-tolerance: %w", err)
	}
	matchingConfig := matcher.DefaultMatchingConfig()
	matchingConfig.AmountTolerance = tolerance

	service, err := reconciler.NewReconciler(invoices, dedup, matchingConfig)
	if err != nil {
		return fmt.Errorf("failed to create reconciler: %w", err)
	}

	report, err := service.Run(ctx, reconciler.RunRequest{
		TenantID:  tenantID,
		Statement: statement,
		DryRun:    dryRun,
	})
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	// Determine output destination
	var output *os.File
	if outputFile != "" {
		output, err = os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer output.Close()
	} else {
		output = os.Stdout
	}

	if err := reporter.Render(output, report, reporter.OutputFormat(outputFormat)); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "\nReconciliation completed.\n")
		fmt.Fprintf(os.Stderr, "Processed %d rows: %d matched, %d skipped, %d unmatched, %d ambiguous, %d errors.\n",
			report.Summary.TotalRows, report.Summary.Matched, report.Summary.Skipped,
			report.Summary.Unmatched, report.Summary.Ambiguous, report.Summary.Errors)
		fmt.Fprintf(os.Stderr, "Applied %s, overpayment %s.\n",
			report.Summary.TotalApplied.StringFixed(2), report.Summary.TotalOverpayment.StringFixed(2))
	}

	return nil
}

// loadStatement parses the statement file by extension. XLSX workbooks go
// through the spreadsheet reader; everything else is treated as CSV.
func loadStatement(path string) (*parsers.Statement, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return parsers.ParseStatementXLSX(path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read statement file: %w", err)
	}
	return parsers.ParseStatement(string(raw))
}

// buildBackends wires the invoice store and dedup ledger from the flags.
// The returned cleanup releases any held connections.
func buildBackends(ctx context.Context) (store.InvoiceStore, ledger.Ledger, func(), error) {
	if databaseURL != "" {
		pool, err := store.Connect(ctx, databaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return store.NewPostgresInvoiceStore(pool), ledger.NewPostgresLedger(pool), pool.Close, nil
	}

	invoices, err := store.LoadInvoiceFixture(invoicesFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load invoice fixture: %w", err)
	}

	var dedup ledger.Ledger
	if ledgerFile != "" {
		fileLedger, err := ledger.NewFileLedger(ledgerFile)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open ledger file: %w", err)
		}
		dedup = fileLedger
	} else {
		dedup = ledger.NewMemoryLedger()
	}

	return invoices, dedup, func() {}, nil
}
