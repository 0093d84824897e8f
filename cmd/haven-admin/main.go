// ABOUTME: Admin CLI for haven-gateway account and safety management
// ABOUTME: Talks to the gateway admin HTTP API with JWT authentication

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
 _
| |__   __ ___   _____ _ __
| '_ \ / _' \ \ / / _ \ '_ \  admin
| | | | (_| |\ V /  __/ | | |
|_| |_|\__,_| \_/ \___|_| |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("HAVEN_GATEWAY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	token := os.Getenv("HAVEN_TOKEN")

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "account":
		err = cmdAccount(baseURL, token, args)
	case "tier":
		err = cmdTier(baseURL, token, args)
	case "exempt":
		err = cmdExempt(baseURL, token, args)
	case "crisis":
		err = cmdCrisis(baseURL, token, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: haven-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  account <user-id>                Show an account")
	fmt.Println("  tier <user-id> <FREE|PAID>       Set an account's tier")
	fmt.Println("  exempt <user-id> <true|false>    Set an account's quota exemption")
	fmt.Println("  crisis <user-id> [limit]         List a user's crisis events")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  HAVEN_GATEWAY_URL    Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  HAVEN_TOKEN          Admin JWT token (required)")
	fmt.Println()
}

func cmdAccount(baseURL, token string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: haven-admin account <user-id>")
	}

	var view map[string]any
	err := doRequest(baseURL, token, http.MethodGet,
		"/api/admin/accounts/"+args[0], nil, &view)
	if err != nil {
		return err
	}

	printAccount(view)
	return nil
}

func cmdTier(baseURL, token string, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: haven-admin tier <user-id> <FREE|PAID>")
	}
	tier := strings.ToUpper(args[1])

	var view map[string]any
	err := doRequest(baseURL, token, http.MethodPut,
		"/api/admin/accounts/"+args[0]+"/tier",
		map[string]string{"tier": tier}, &view)
	if err != nil {
		return err
	}

	color.Green("Tier updated.")
	printAccount(view)
	return nil
}

func cmdExempt(baseURL, token string, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: haven-admin exempt <user-id> <true|false>")
	}
	exempt := args[1] == "true"

	var view map[string]any
	err := doRequest(baseURL, token, http.MethodPut,
		"/api/admin/accounts/"+args[0]+"/exempt",
		map[string]bool{"exempt": exempt}, &view)
	if err != nil {
		return err
	}

	color.Green("Exemption updated.")
	printAccount(view)
	return nil
}

func cmdCrisis(baseURL, token string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: haven-admin crisis <user-id> [limit]")
	}

	path := "/api/admin/accounts/" + args[0] + "/crisis-events"
	if len(args) > 1 {
		path += "?limit=" + args[1]
	}

	var result struct {
		Events []struct {
			ID               string    `json:"id"`
			EntryID          string    `json:"entryId"`
			Score            float64   `json:"score"`
			Level            string    `json:"level"`
			DetectedPatterns []string  `json:"detectedPatterns"`
			CreatedAt        time.Time `json:"createdAt"`
		} `json:"events"`
	}
	if err := doRequest(baseURL, token, http.MethodGet, path, nil, &result); err != nil {
		return err
	}

	if len(result.Events) == 0 {
		fmt.Println("No crisis events.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSCORE\tLEVEL\tENTRY\tPATTERNS")
	for _, e := range result.Events {
		fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.Score, e.Level, e.EntryID,
			strings.Join(e.DetectedPatterns, ","),
		)
	}
	return w.Flush()
}

func printAccount(view map[string]any) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "User ID:\t%v\n", view["userId"])
	fmt.Fprintf(w, "Tier:\t%v\n", view["tier"])
	fmt.Fprintf(w, "Anonymous:\t%v\n", view["anonymous"])
	fmt.Fprintf(w, "Exempt:\t%v\n", view["exempt"])
	fmt.Fprintf(w, "Unlocked:\t%v\n", view["unlocked"])
	fmt.Fprintf(w, "Trial used:\t%v\n", view["trialRequestsUsed"])
	fmt.Fprintf(w, "Created:\t%v\n", view["createdAt"])
	_ = w.Flush()
}

func doRequest(baseURL, token, method, path string, body, out any) error {
	if token == "" {
		return fmt.Errorf("HAVEN_TOKEN is required")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling gateway: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var wrapped struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &wrapped) == nil && wrapped.Error.Message != "" {
			return fmt.Errorf("gateway: %s (status %d)", wrapped.Error.Message, resp.StatusCode)
		}
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
