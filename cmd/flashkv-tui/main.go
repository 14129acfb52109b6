// Command flashkv-tui browses the partitions, namespaces and blobs of a
// running flashkv server.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dd0wney/cluso-flashkv/pkg/client"
	flashtls "github.com/dd0wney/cluso-flashkv/pkg/tls"
)

func main() {
	defaultURL := os.Getenv("FLASHKV_SERVER")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	serverURL := flag.String("server", defaultURL, "flashkv server URL")
	token := flag.String("token", os.Getenv("FLASHKV_TOKEN"), "Bearer token for the server")
	caFile := flag.String("cacert", os.Getenv("FLASHKV_CACERT"), "PEM CA bundle trusted for https servers")
	flag.Parse()

	c := client.New(*serverURL).WithToken(*token)
	if *caFile != "" {
		pool, err := flashtls.LoadCAPool(*caFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		c.WithTLSConfig(&tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12})
	}

	m := newModel(context.Background(), c)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
