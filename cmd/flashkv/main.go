// Command flashkv manages flash images and the blobs stored in them, either
// directly on an image file or through a running flashkv server.
package main

import (
	"fmt"
	"io"
	"os"
)

const version = "1.0.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	command, rest := args[0], args[1:]
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}

	switch command {
	case "mkimage":
		return c.mkimage(rest)
	case "partitions", "ls":
		return c.partitions(rest)
	case "info":
		return c.info(rest)
	case "init":
		return c.initPartition(rest)
	case "erase":
		return c.erase(rest)
	case "erase-ns":
		return c.eraseNamespace(rest)
	case "keys":
		return c.keys(rest)
	case "exists":
		return c.exists(rest)
	case "write", "put":
		return c.write(rest)
	case "read", "get":
		return c.read(rest)
	case "delete", "rm":
		return c.deleteKey(rest)
	case "compact":
		return c.compact(rest)
	case "serve":
		return c.serve(rest)
	case "token":
		return c.token(rest)
	case "cert":
		return c.cert(rest)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	case "version", "--version", "-v":
		printVersion(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	usage := `flashkv - namespaced key-value storage on NOR flash images

Usage:
  flashkv <command> [options] [arguments]

Image Commands:
  mkimage                        Create an erased image and program the partition table
  partitions                     List the partition table
  info <partition>               Show occupancy and counters of a partition
  init <partition>               Mount a partition, recovering interrupted operations
  erase <partition>              Erase every unit of a partition
  compact <partition>            Reclaim every unit holding dead records

Blob Commands:
  keys <partition> [namespace]   List namespaces, or the keys of one namespace
  exists <p> <ns> <key>          Report whether a key exists and its size
  write <p> <ns> <key> [value]   Store a value (from -file or stdin when omitted)
  read <p> <ns> <key>            Print a value
  delete <p> <ns> <key>          Remove a key
  erase-ns <p> <ns>              Remove every key of a namespace

Server:
  serve                          Serve the HTTP binding
  token                          Mint a bearer token from server.jwt_secret
  cert [CERT KEY]                Write a self-signed certificate for server.tls

Other:
  help                           Show this help message
  version                        Show version information

Common Flags:
  -config PATH   YAML configuration (default: $FLASHKV_CONFIG)
  -server URL    Talk to a running server instead of the image (default: $FLASHKV_SERVER)
  -token TOKEN   Bearer token for the server (default: $FLASHKV_TOKEN)
  -cacert PATH   CA bundle trusted for an https server (default: $FLASHKV_CACERT)

Use "flashkv <command> -h" for the flags of a command.
`
	fmt.Fprint(w, usage)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "flashkv v%s\n", version)
}
