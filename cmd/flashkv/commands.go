package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dd0wney/cluso-flashkv/pkg/auth"
	"github.com/dd0wney/cluso-flashkv/pkg/bootstrap"
	"github.com/dd0wney/cluso-flashkv/pkg/client"
	"github.com/dd0wney/cluso-flashkv/pkg/config"
	"github.com/dd0wney/cluso-flashkv/pkg/logging"
	"github.com/dd0wney/cluso-flashkv/pkg/status"
	flashtls "github.com/dd0wney/cluso-flashkv/pkg/tls"
	"github.com/dd0wney/cluso-flashkv/pkg/validation"
)

// cli carries the streams every command writes to.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath string
	serverURL  string
	token      string
	caFile     string
	verbose    bool
}

func (c *cli) flagSet(name, usage string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)

	cf := &commonFlags{}
	fs.StringVar(&cf.configPath, "config", os.Getenv("FLASHKV_CONFIG"), "YAML configuration file")
	fs.StringVar(&cf.serverURL, "server", os.Getenv("FLASHKV_SERVER"), "flashkv server URL")
	fs.StringVar(&cf.token, "token", os.Getenv("FLASHKV_TOKEN"), "Bearer token for the server")
	fs.StringVar(&cf.caFile, "cacert", os.Getenv("FLASHKV_CACERT"), "PEM CA bundle trusted for https servers")
	fs.BoolVar(&cf.verbose, "verbose", false, "Log engine activity to stderr")

	fs.Usage = func() {
		fmt.Fprintf(c.stderr, "Usage: flashkv %s %s\n\nFlags:\n", name, usage)
		fs.PrintDefaults()
	}
	return fs, cf
}

// parse parses flags and checks the positional argument count. When ok is
// false the command should exit with code.
func (c *cli) parse(fs *flag.FlagSet, args []string, min, max int) (rest []string, code int, ok bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, 0, false
		}
		return nil, 2, false
	}
	rest = fs.Args()
	if len(rest) < min || len(rest) > max {
		fmt.Fprintf(c.stderr, "%s: wrong number of arguments\n", fs.Name())
		fs.Usage()
		return nil, 2, false
	}
	return rest, 0, true
}

func (c *cli) fail(err error) int {
	printError(c.stderr, err)
	return 1
}

func (c *cli) loadConfig(cf *commonFlags) (*config.Config, error) {
	return config.Load(cf.configPath)
}

func (c *cli) logger(cf *commonFlags, cfg *config.Config) logging.Logger {
	if !cf.verbose {
		return logging.NewNopLogger()
	}
	return logging.NewJSONLogger(c.stderr, cfg.Level())
}

// open returns the server backend when -server is set and the image backend
// otherwise.
func (c *cli) open(cf *commonFlags) (backend, error) {
	if cf.serverURL != "" {
		kc := client.New(cf.serverURL).WithToken(cf.token)
		if cf.caFile != "" {
			pool, err := flashtls.LoadCAPool(cf.caFile)
			if err != nil {
				return nil, err
			}
			kc.WithTLSConfig(&tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12})
		}
		return remoteBackend{kc}, nil
	}
	cfg, err := c.loadConfig(cf)
	if err != nil {
		return nil, err
	}
	return openLocal(cfg, c.logger(cf, cfg))
}

// withBackend parses args and runs fn against the selected backend.
func (c *cli) withBackend(fs *flag.FlagSet, cf *commonFlags, args []string, min, max int, fn func(context.Context, backend, []string) error) int {
	rest, code, ok := c.parse(fs, args, min, max)
	if !ok {
		return code
	}
	b, err := c.open(cf)
	if err != nil {
		return c.fail(err)
	}
	defer b.Close()

	if err := fn(context.Background(), b, rest); err != nil {
		return c.fail(err)
	}
	return 0
}

func checkBlobArgs(part, ns, key string) error {
	return validation.ValidateBlobRef(&validation.BlobRef{Partition: part, Namespace: ns, Key: key})
}

func (c *cli) mkimage(args []string) int {
	fs, cf := c.flagSet("mkimage", "[-force]")
	force := fs.Bool("force", false, "Replace an existing image")
	if _, code, ok := c.parse(fs, args, 0, 0); !ok {
		return code
	}
	if cf.serverURL != "" {
		return c.fail(fmt.Errorf("%w: mkimage works on image files, not servers", status.ErrUnsupported))
	}

	cfg, err := c.loadConfig(cf)
	if err != nil {
		return c.fail(err)
	}
	if _, err := os.Stat(cfg.Device.Path); err == nil && !*force {
		return c.fail(fmt.Errorf("%w: %s exists; pass -force to replace it", status.ErrInvalidArgument, cfg.Device.Path))
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return c.fail(status.IOError("mkimage", err))
	}

	dev, table, err := cfg.MakeImage()
	if err != nil {
		return c.fail(err)
	}
	defer dev.Close()

	printSuccess(c.stdout, "created %s (%s, %s units)", cfg.Device.Path,
		humanBytes(dev.Size()), humanBytes(int64(dev.UnitSize())))
	fmt.Fprintf(c.stdout, "table %s with %d partitions\n", table.ID(), len(table.Partitions()))
	return 0
}

func (c *cli) partitions(args []string) int {
	fs, cf := c.flagSet("partitions", "")
	return c.withBackend(fs, cf, args, 0, 0, func(ctx context.Context, b backend, _ []string) error {
		list, err := b.Partitions(ctx)
		if err != nil {
			return err
		}
		printPartitions(c.stdout, list)
		return nil
	})
}

func (c *cli) info(args []string) int {
	fs, cf := c.flagSet("info", "<partition>")
	return c.withBackend(fs, cf, args, 1, 1, func(ctx context.Context, b backend, rest []string) error {
		info, err := b.Info(ctx, rest[0])
		if err != nil {
			return err
		}
		printInfo(c.stdout, info)
		return nil
	})
}

func (c *cli) initPartition(args []string) int {
	fs, cf := c.flagSet("init", "<partition>")
	return c.withBackend(fs, cf, args, 1, 1, func(ctx context.Context, b backend, rest []string) error {
		info, err := b.InitPartition(ctx, rest[0])
		if err != nil {
			return err
		}
		printSuccess(c.stdout, "mounted %s", rest[0])
		printInfo(c.stdout, info)
		return nil
	})
}

func (c *cli) erase(args []string) int {
	fs, cf := c.flagSet("erase", "<partition>")
	return c.withBackend(fs, cf, args, 1, 1, func(ctx context.Context, b backend, rest []string) error {
		if err := b.ErasePartition(ctx, rest[0]); err != nil {
			return err
		}
		printSuccess(c.stdout, "erased %s", rest[0])
		return nil
	})
}

func (c *cli) compact(args []string) int {
	fs, cf := c.flagSet("compact", "<partition>")
	return c.withBackend(fs, cf, args, 1, 1, func(ctx context.Context, b backend, rest []string) error {
		info, err := b.Compact(ctx, rest[0])
		if err != nil {
			return err
		}
		printSuccess(c.stdout, "compacted %s", rest[0])
		printInfo(c.stdout, info)
		return nil
	})
}

func (c *cli) keys(args []string) int {
	fs, cf := c.flagSet("keys", "<partition> [namespace]")
	return c.withBackend(fs, cf, args, 1, 2, func(ctx context.Context, b backend, rest []string) error {
		part := rest[0]
		if len(rest) == 1 {
			names, err := b.Namespaces(ctx, part)
			if err != nil {
				return err
			}
			printList(c.stdout, "Namespaces in "+part, names)
			return nil
		}
		keys, err := b.Keys(ctx, part, rest[1])
		if err != nil {
			return err
		}
		printList(c.stdout, "Keys in "+part+"/"+rest[1], keys)
		return nil
	})
}

func (c *cli) eraseNamespace(args []string) int {
	fs, cf := c.flagSet("erase-ns", "<partition> <namespace>")
	return c.withBackend(fs, cf, args, 2, 2, func(ctx context.Context, b backend, rest []string) error {
		n, err := b.EraseNamespace(ctx, rest[0], rest[1])
		if err != nil {
			return err
		}
		printSuccess(c.stdout, "removed %d keys from %s/%s", n, rest[0], rest[1])
		return nil
	})
}

// exists exits 0 when the key is present and 1 when it is not.
func (c *cli) exists(args []string) int {
	fs, cf := c.flagSet("exists", "<partition> <namespace> <key>")
	rest, code, ok := c.parse(fs, args, 3, 3)
	if !ok {
		return code
	}
	if err := checkBlobArgs(rest[0], rest[1], rest[2]); err != nil {
		return c.fail(err)
	}
	b, err := c.open(cf)
	if err != nil {
		return c.fail(err)
	}
	defer b.Close()

	size, found, err := b.KeyExists(context.Background(), rest[0], rest[1], rest[2])
	if err != nil {
		return c.fail(err)
	}
	if !found {
		fmt.Fprintln(c.stdout, mutedStyle.Render("not found"))
		return 1
	}
	fmt.Fprintf(c.stdout, "found, %d bytes\n", size)
	return 0
}

func (c *cli) write(args []string) int {
	fs, cf := c.flagSet("write", "[-file PATH] <partition> <namespace> <key> [value]")
	file := fs.String("file", "", "Read the value from a file (\"-\" for stdin)")
	return c.withBackend(fs, cf, args, 3, 4, func(ctx context.Context, b backend, rest []string) error {
		if err := checkBlobArgs(rest[0], rest[1], rest[2]); err != nil {
			return err
		}
		data, err := c.value(rest[3:], *file)
		if err != nil {
			return err
		}
		if err := b.WriteBlob(ctx, rest[0], rest[1], rest[2], data); err != nil {
			return err
		}
		printSuccess(c.stdout, "wrote %d bytes to %s/%s/%s", len(data), rest[0], rest[1], rest[2])
		return nil
	})
}

// value picks the blob to write from the positional value, -file or stdin.
func (c *cli) value(positional []string, file string) ([]byte, error) {
	switch {
	case len(positional) == 1 && file != "":
		return nil, fmt.Errorf("%w: give either a value or -file, not both", status.ErrInvalidArgument)
	case len(positional) == 1:
		return []byte(positional[0]), nil
	case file == "" || file == "-":
		data, err := io.ReadAll(c.stdin)
		if err != nil {
			return nil, status.IOError("read stdin", err)
		}
		return data, nil
	default:
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, status.IOError("read file", err)
		}
		return data, nil
	}
}

func (c *cli) read(args []string) int {
	fs, cf := c.flagSet("read", "[-size N] [-o PATH] <partition> <namespace> <key>")
	size := fs.Int("size", -1, "Expected value length; a mismatch fails with SizeMismatch")
	out := fs.String("o", "", "Write the value to a file instead of stdout")
	return c.withBackend(fs, cf, args, 3, 3, func(ctx context.Context, b backend, rest []string) error {
		if err := checkBlobArgs(rest[0], rest[1], rest[2]); err != nil {
			return err
		}

		var data []byte
		var err error
		if *size >= 0 {
			data, err = b.ReadBlob(ctx, rest[0], rest[1], rest[2], *size)
		} else {
			data, err = b.Get(ctx, rest[0], rest[1], rest[2])
		}
		if err != nil {
			return err
		}

		if *out != "" {
			if err := os.WriteFile(*out, data, 0644); err != nil {
				return status.IOError("write file", err)
			}
			printSuccess(c.stdout, "read %d bytes into %s", len(data), *out)
			return nil
		}
		_, err = c.stdout.Write(data)
		return err
	})
}

func (c *cli) deleteKey(args []string) int {
	fs, cf := c.flagSet("delete", "<partition> <namespace> <key>")
	return c.withBackend(fs, cf, args, 3, 3, func(ctx context.Context, b backend, rest []string) error {
		if err := checkBlobArgs(rest[0], rest[1], rest[2]); err != nil {
			return err
		}
		if err := b.DeleteKey(ctx, rest[0], rest[1], rest[2]); err != nil {
			return err
		}
		printSuccess(c.stdout, "deleted %s/%s/%s", rest[0], rest[1], rest[2])
		return nil
	})
}

// token mints a bearer token signed with the configured secret.
func (c *cli) token(args []string) int {
	fs, cf := c.flagSet("token", "[-role reader|writer] [-subject NAME]")
	role := fs.String("role", auth.RoleReader, "Token role: reader or writer")
	subject := fs.String("subject", "flashkv-cli", "Token subject")
	if _, code, ok := c.parse(fs, args, 0, 0); !ok {
		return code
	}

	cfg, err := c.loadConfig(cf)
	if err != nil {
		return c.fail(err)
	}
	tokens, err := cfg.TokenManager()
	if err != nil {
		return c.fail(err)
	}
	if tokens == nil {
		return c.fail(fmt.Errorf("%w: server.jwt_secret is not configured", status.ErrInvalidArgument))
	}

	token, err := tokens.GenerateToken(*subject, *role)
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, token)
	return 0
}

func (c *cli) cert(args []string) int {
	fs, cf := c.flagSet("cert", "[-hosts LIST] [-valid-for DURATION] [CERT KEY]")
	hosts := fs.String("hosts", "localhost,127.0.0.1", "Comma-separated DNS names and IPs")
	validFor := fs.Duration("valid-for", flashtls.DefaultValidFor, "Certificate lifetime")
	rest, code, ok := c.parse(fs, args, 0, 2)
	if !ok {
		return code
	}

	var certFile, keyFile string
	switch len(rest) {
	case 2:
		certFile, keyFile = rest[0], rest[1]
	case 0:
		cfg, err := c.loadConfig(cf)
		if err != nil {
			return c.fail(err)
		}
		certFile, keyFile = cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile
		if certFile == "" || keyFile == "" {
			return c.fail(fmt.Errorf("%w: pass CERT KEY or set server.tls.cert_file and key_file", status.ErrInvalidArgument))
		}
	default:
		fmt.Fprintln(c.stderr, "cert needs both CERT and KEY")
		return 2
	}

	var names []string
	for _, h := range strings.Split(*hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			names = append(names, h)
		}
	}
	if err := flashtls.WriteSelfSigned(names, *validFor, certFile, keyFile); err != nil {
		return c.fail(err)
	}
	printSuccess(c.stdout, "wrote %s and %s (valid %s)", certFile, keyFile, *validFor)
	return 0
}

func (c *cli) serve(args []string) int {
	fs, cf := c.flagSet("serve", "")
	if _, code, ok := c.parse(fs, args, 0, 0); !ok {
		return code
	}
	if err := bootstrap.Run(context.Background(), cf.configPath); err != nil {
		return c.fail(err)
	}
	return 0
}
