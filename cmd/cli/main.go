package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
	timeout   string
	language  string
	memoryMB  int64
	testsPath string
)

func main() {
	root := &cobra.Command{
		Use:   "codelab",
		Short: "CLI client for the codelab execution service",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("CODELAB_API_KEY"), "API key")

	// Execute command
	execCmd := &cobra.Command{
		Use:   "exec [code]",
		Short: "Execute code in a sandbox",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExec,
	}
	execCmd.Flags().StringVar(&timeout, "timeout", "10s", "Execution timeout")
	execCmd.Flags().StringVarP(&language, "language", "l", "python", "Language (python, javascript, typescript, bash, go)")
	execCmd.Flags().Int64Var(&memoryMB, "memory", 256, "Memory limit in MB")
	execCmd.Flags().StringVar(&testsPath, "tests", "", "JSON file with test cases")
	root.AddCommand(execCmd)

	// Execute from file
	execFileCmd := &cobra.Command{
		Use:   "exec-file [file]",
		Short: "Execute code from a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExecFile,
	}
	execFileCmd.Flags().StringVar(&timeout, "timeout", "10s", "Execution timeout")
	execFileCmd.Flags().StringVarP(&language, "language", "l", "", "Language (auto-detected from extension)")
	execFileCmd.Flags().Int64Var(&memoryMB, "memory", 256, "Memory limit in MB")
	execFileCmd.Flags().StringVar(&testsPath, "tests", "", "JSON file with test cases")
	root.AddCommand(execFileCmd)

	// Validate without executing
	validateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Scan code for dangerous patterns without running it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
	validateCmd.Flags().StringVarP(&language, "language", "l", "", "Language (auto-detected from extension)")
	root.AddCommand(validateCmd)

	// Supported languages
	root.AddCommand(&cobra.Command{
		Use:   "languages",
		Short: "List supported languages and limits",
		RunE:  runLanguages,
	})

	// Health check
	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runExec(cmd *cobra.Command, args []string) error {
	var code string

	if len(args) > 0 {
		code = args[0]
	} else {
		// Read from stdin
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		code = string(data)
	}

	return executeCode(code, language)
}

func runExecFile(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	lang := language
	if lang == "" {
		lang, err = detectLanguage(args[0])
		if err != nil {
			return err
		}
	}

	return executeCode(string(data), lang)
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	lang := language
	if lang == "" {
		lang, err = detectLanguage(args[0])
		if err != nil {
			return err
		}
	}

	payload := map[string]any{
		"code":     string(data),
		"language": lang,
	}
	body, _ := json.Marshal(payload)

	result, err := post("/validate", body, 10*time.Second)
	if err != nil {
		return err
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if safe, ok := result["safe"].(bool); ok && !safe {
		os.Exit(1)
	}
	return nil
}

func executeCode(code, lang string) error {
	payload := map[string]any{
		"code":     code,
		"language": lang,
		"limits": map[string]any{
			"timeout":            timeout,
			"memory_limit_bytes": memoryMB << 20,
		},
	}

	if testsPath != "" {
		data, err := os.ReadFile(testsPath)
		if err != nil {
			return fmt.Errorf("reading tests file: %w", err)
		}
		var cases []map[string]any
		if err := json.Unmarshal(data, &cases); err != nil {
			return fmt.Errorf("parsing tests file: %w", err)
		}
		payload["test_cases"] = cases
	}

	body, _ := json.Marshal(payload)

	result, err := post("/execute", body, 90*time.Second)
	if err != nil {
		return err
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if status, ok := result["status"].(string); ok && status != "success" {
		os.Exit(1)
	}
	return nil
}

func post(path string, body []byte, clientTimeout time.Duration) (map[string]any, error) {
	req, err := http.NewRequest("POST", serverURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: clientTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return result, nil
}

func runLanguages(_ *cobra.Command, _ []string) error {
	req, _ := http.NewRequest("GET", serverURL+"/languages", nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result any
	json.NewDecoder(resp.Body).Decode(&result)
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}

func runHealth(_ *cobra.Command, _ []string) error {
	resp, err := http.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	json.NewDecoder(resp.Body).Decode(&result)
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}

func detectLanguage(path string) (string, error) {
	switch ext := filepath.Ext(path); ext {
	case ".py":
		return "python", nil
	case ".js":
		return "javascript", nil
	case ".ts":
		return "typescript", nil
	case ".sh":
		return "bash", nil
	case ".go":
		return "go", nil
	default:
		return "", fmt.Errorf("cannot detect language for extension %q, use --language flag", ext)
	}
}
