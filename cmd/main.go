package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/luca-patrignani/edu-ledger/digest"
	"github.com/luca-patrignani/edu-ledger/ledger"
	"github.com/luca-patrignani/edu-ledger/server"
)

const (
	defaultDataFile = "blockchain_data.json"
	defaultPort     = 8080
)

var logLevels = map[string]pterm.LogLevel{
	"trace": pterm.LogLevelTrace,
	"debug": pterm.LogLevelDebug,
	"info":  pterm.LogLevelInfo,
	"warn":  pterm.LogLevelWarn,
	"error": pterm.LogLevelError,
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		code := 1
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		if msg := err.Error(); msg != "" {
			pterm.Error.Println(msg)
		}
		os.Exit(code)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "eduledger"
	app.Usage = "Tamper-evident ledger of academic record fingerprints"
	app.Description = "Without a command, eduledger starts the interactive shell."
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "data",
			Aliases: []string{"d"},
			Value:   defaultDataFile,
			EnvVars: []string{"EDULEDGER_DATA"},
			Usage:   "Chain snapshot file",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			EnvVars: []string{"EDULEDGER_LOG_LEVEL"},
			Usage:   "One of trace, debug, info, warn, error",
		},
	}
	// Exit codes are applied by main, not from inside Run.
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Action = runShell
	app.Commands = []*cli.Command{
		{
			Name:   "shell",
			Usage:  "Interactive menu",
			Action: runShell,
		},
		{
			Name:   "add",
			Usage:  "Record a student's fingerprint",
			Flags:  recordFlags(),
			Action: runAdd,
		},
		{
			Name:   "find",
			Usage:  "Check whether a student record is on the chain",
			Flags:  recordFlags(),
			Action: runFind,
		},
		{
			Name:      "certify",
			Usage:     "Record a certificate file's fingerprint",
			ArgsUsage: "<file>",
			Action:    runCertify,
		},
		{
			Name:      "check-cert",
			Usage:     "Check whether a certificate file or fingerprint is on the chain",
			ArgsUsage: "<file>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "fingerprint", Aliases: []string{"f"}, Usage: "Hex fingerprint instead of a file"},
			},
			Action: runCheckCert,
		},
		{
			Name:   "validate",
			Usage:  "Verify chain integrity; exits with status 2 when the chain is invalid",
			Action: runValidate,
		},
		{
			Name:   "list",
			Usage:  "Print every block",
			Action: runList,
		},
		{
			Name:  "serve",
			Usage: "Expose the ledger over HTTP",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "addr",
					Value:   fmt.Sprintf("127.0.0.1:%d", defaultPort),
					EnvVars: []string{"EDULEDGER_ADDR"},
					Usage:   "Listen address; the port defaults to 8080",
				},
				&cli.BoolFlag{
					Name:    "tls",
					EnvVars: []string{"EDULEDGER_TLS"},
					Usage:   "Serve HTTPS with a self-signed certificate",
				},
				&cli.DurationFlag{
					Name:  "shutdown-timeout",
					Value: 5 * time.Second,
					Usage: "Grace period for in-flight requests",
				},
				&cli.Int64Flag{
					Name:  "max-upload",
					Value: 10 << 20,
					Usage: "Largest accepted certificate upload in bytes",
				},
			},
			Action: runServe,
		},
	}
	return app
}

func recordFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "name", Required: true, Usage: "Student name"},
		&cli.StringFlag{Name: "roll", Required: true, Usage: "Roll number"},
		&cli.StringFlag{Name: "gpa", Required: true, Usage: "GPA"},
	}
}

func recordArgs(c *cli.Context) (name, roll, gpa string) {
	return strings.TrimSpace(c.String("name")), strings.TrimSpace(c.String("roll")), strings.TrimSpace(c.String("gpa"))
}

func newLogger(level string) (*slog.Logger, error) {
	l, ok := logLevels[strings.ToLower(level)]
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	handler := pterm.NewSlogHandler(pterm.DefaultLogger.WithLevel(l))
	return slog.New(handler), nil
}

// openChain restores the chain from the --data snapshot. A corrupt snapshot
// is fatal; a missing one starts a new chain.
func openChain(c *cli.Context, logger *slog.Logger) (*ledger.Blockchain, error) {
	path := c.String("data")
	chain, err := ledger.Open(ledger.NewFileStore(path))
	if errors.Is(err, ledger.ErrCorruptSnapshot) {
		return nil, fmt.Errorf("refusing to start: %w", err)
	}
	if err != nil {
		return nil, err
	}
	logger.Debug("chain loaded", "path", path, "blocks", chain.Len())
	return chain, nil
}

func setup(c *cli.Context) (*ledger.Blockchain, *slog.Logger, error) {
	logger, err := newLogger(c.String("log-level"))
	if err != nil {
		return nil, nil, err
	}
	chain, err := openChain(c, logger)
	if err != nil {
		return nil, nil, err
	}
	return chain, logger, nil
}

func runAdd(c *cli.Context) error {
	chain, _, err := setup(c)
	if err != nil {
		return err
	}
	b, err := chain.AddRecord(recordArgs(c))
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Record added in block %d", b.Index)
	pterm.Println(blockBox(b))
	return nil
}

func runFind(c *cli.Context) error {
	chain, _, err := setup(c)
	if err != nil {
		return err
	}
	printLookup(chain.FindRecord(recordArgs(c)))
	return nil
}

func runCertify(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: eduledger certify <file>", 1)
	}
	chain, logger, err := setup(c)
	if err != nil {
		return err
	}
	fp, size, err := fingerprintFile(c.Args().First())
	if err != nil {
		return err
	}
	b, err := chain.Commit(ledger.KindCertificate, fp.String())
	if err != nil {
		return err
	}
	logger.Info("certificate added", "file", c.Args().First(), "size", humanize.Bytes(uint64(size)), "index", b.Index)
	pterm.Success.Printfln("Certificate %s added in block %d", fp.Short(), b.Index)
	return nil
}

func runCheckCert(c *cli.Context) error {
	var fp digest.Fingerprint
	var err error
	switch {
	case c.IsSet("fingerprint"):
		fp, err = digest.Parse(c.String("fingerprint"))
	case c.NArg() == 1:
		fp, _, err = fingerprintFile(c.Args().First())
	default:
		return cli.Exit("usage: eduledger check-cert <file> | --fingerprint <hex>", 1)
	}
	if err != nil {
		return err
	}
	chain, _, err := setup(c)
	if err != nil {
		return err
	}
	printLookup(chain.FindCertificate(fp))
	return nil
}

func runValidate(c *cli.Context) error {
	chain, _, err := setup(c)
	if err != nil {
		return err
	}
	report := chain.Validate()
	pterm.Println(reportBox(report))
	if !report.Valid {
		return cli.Exit("", 2)
	}
	return nil
}

func runList(c *cli.Context) error {
	chain, _, err := setup(c)
	if err != nil {
		return err
	}
	return pterm.DefaultTable.WithHasHeader().WithData(chainTableData(chain.Blocks(), time.Now())).Render()
}

func runServe(c *cli.Context) error {
	chain, logger, err := setup(c)
	if err != nil {
		return err
	}
	addr, err := listenAddress(c.String("addr"), defaultPort)
	if err != nil {
		return err
	}

	srvOpts := []server.Option{
		server.WithShutdownTimeout(c.Duration("shutdown-timeout")),
		server.WithMaxUploadSize(c.Int64("max-upload")),
	}
	if c.Bool("tls") {
		cert, _, err := server.GenerateSelfSignedCert(addr)
		if err != nil {
			return fmt.Errorf("failed to generate certificate: %w", err)
		}
		srvOpts = append(srvOpts, server.WithCertificate(cert))
	}

	l, err := listen(addr)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pterm.Info.Printfln("Serving %d blocks from %s", chain.Len(), c.String("data"))
	return server.New(chain, logger, srvOpts...).Serve(ctx, l)
}

func fingerprintFile(path string) (digest.Fingerprint, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	fp, err := digest.Reader(f)
	if err != nil {
		return "", 0, err
	}
	return fp, info.Size(), nil
}

func printLookup(b ledger.Block, found bool) {
	if !found {
		pterm.Warning.Println("Not found on the chain")
		return
	}
	pterm.Success.Printfln("Found in block %d", b.Index)
	pterm.Info.Printfln("Timestamp: %s (%s)", b.Time().Format(time.DateTime), humanize.Time(b.Time()))
}
