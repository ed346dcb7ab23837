// Package main provides a small client for a running bridge server.
//
// Usage:
//
//	bridgectl discover                 list live instances on this machine
//	bridgectl logs [-count n] [-level l]
//	bridgectl clear                    clear the console history
//	bridgectl eval [-channel worker|frame] <code>
//	bridgectl health
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/deckbridge/deckbridge/internal/ports"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "discover":
		err = runDiscover(args)
	case "logs":
		err = runLogs(args)
	case "clear":
		err = runClear(args)
	case "eval":
		err = runEval(args)
	case "health":
		err = runHealth(args)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: bridgectl <discover|logs|clear|eval|health> [flags]")
}

// findInstance locates a running server, preferring an explicit -port.
func findInstance(preferred, explicit int) (ports.Advertisement, error) {
	coordinator := ports.NewCoordinator("127.0.0.1")
	if explicit != 0 {
		return coordinator.ReadAdvertisement(explicit)
	}
	instances := coordinator.DiscoverInstances(preferred)
	if len(instances) == 0 {
		return ports.Advertisement{}, fmt.Errorf("no running instance found near port %d", preferred)
	}
	return instances[0], nil
}

func baseURL(ad ports.Advertisement) string {
	return fmt.Sprintf("http://%s:%d", ad.Host, ad.Port)
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func printBody(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(body))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func runDiscover(args []string) error {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	preferred := fs.Int("preferred", 9223, "First port of the scan range")
	fs.Parse(args)

	coordinator := ports.NewCoordinator("127.0.0.1")
	instances := coordinator.DiscoverInstances(*preferred)
	if len(instances) == 0 {
		fmt.Printf("No running instances in %d-%d\n", *preferred, *preferred+ports.PortRangeSize-1)
		return nil
	}
	for _, ad := range instances {
		fmt.Printf("port %d  pid %d  up since %s\n", ad.Port, ad.PID, ad.StartedAt.Format(time.RFC3339))
	}
	return nil
}

func runLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	preferred := fs.Int("preferred", 9223, "First port of the scan range")
	port := fs.Int("port", 0, "Exact instance port")
	count := fs.Int("count", 0, "Return only the most recent n entries")
	level := fs.String("level", "", "Filter by level")
	fs.Parse(args)

	ad, err := findInstance(*preferred, *port)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/v1/logs?count=%d", baseURL(ad), *count)
	if *level != "" {
		url += "&level=" + *level
	}
	resp, err := httpClient().Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printBody(resp)
}

func runClear(args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	preferred := fs.Int("preferred", 9223, "First port of the scan range")
	port := fs.Int("port", 0, "Exact instance port")
	fs.Parse(args)

	ad, err := findInstance(*preferred, *port)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodDelete, baseURL(ad)+"/v1/logs", nil)
	if err != nil {
		return err
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printBody(resp)
}

func runEval(args []string) error {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	preferred := fs.Int("preferred", 9223, "First port of the scan range")
	port := fs.Int("port", 0, "Exact instance port")
	channel := fs.String("channel", "worker", "Execution channel: worker or frame")
	timeout := fs.Duration("timeout", 0, "Per-call timeout (0 uses the server default)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("eval requires a code argument")
	}
	code := fs.Arg(0)

	ad, err := findInstance(*preferred, *port)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{
		"channel":    *channel,
		"code":       code,
		"timeout_ms": timeout.Milliseconds(),
	})
	if err != nil {
		return err
	}

	resp, err := httpClient().Post(baseURL(ad)+"/v1/eval", "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printBody(resp)
}

func runHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	preferred := fs.Int("preferred", 9223, "First port of the scan range")
	port := fs.Int("port", 0, "Exact instance port")
	fs.Parse(args)

	ad, err := findInstance(*preferred, *port)
	if err != nil {
		return err
	}

	resp, err := httpClient().Get(baseURL(ad) + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printBody(resp)
}
