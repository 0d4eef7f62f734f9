package csvqactl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
	// NoColor disables colored error output; tests and pipes set it.
	NoColor bool
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Retryable bool
	Body      string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
}

// Run executes one csvqactl invocation and returns the process exit code:
// 0 on success, 1 on request or API failure, 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	root := newRootCmd(defaults, stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	errColor := color.New(color.FgRed, color.Bold)
	if defaults.NoColor {
		errColor.DisableColor()
	}
	var apiErr *APIError
	var usageErr usageError
	switch {
	case errors.As(err, &apiErr):
		_, _ = errColor.Fprintf(stderr, "%s\n", apiErr.Error())
		if strings.TrimSpace(apiErr.Body) != "" {
			if pretty, ok := prettyJSON([]byte(apiErr.Body)); ok {
				_, _ = fmt.Fprintln(stderr, pretty)
			}
		}
		if apiErr.Retryable {
			hint := color.New(color.FgYellow)
			if defaults.NoColor {
				hint.DisableColor()
			}
			_, _ = hint.Fprintln(stderr, "the request is retryable")
		}
		return 1
	case errors.As(err, &usageErr), strings.HasPrefix(err.Error(), "unknown command"):
		_, _ = errColor.Fprintf(stderr, "%v\n\n", err)
		_, _ = fmt.Fprint(stderr, root.UsageString())
		return 2
	default:
		_, _ = errColor.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }

func (e usageError) Unwrap() error { return e.err }

type client struct {
	baseURL string
	http    *http.Client
	stdout  io.Writer
}

func newRootCmd(defaults Options, stdout io.Writer) *cobra.Command {
	var (
		baseURL string
		timeout time.Duration
	)
	c := &client{stdout: stdout}

	root := &cobra.Command{
		Use:           "csvqactl",
		Short:         "Command-line client for the csvqa API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
			c.http = defaults.HTTPClient
			if c.http == nil {
				c.http = &http.Client{Timeout: timeout}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return usageError{errors.New("a command is required")}
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})
	root.PersistentFlags().StringVar(&baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8000"), "csvqa API base URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")

	root.AddCommand(
		simpleGet(c, "health", "Service and dataset status", "/v1/health"),
		simpleGet(c, "ready", "Readiness check", "/v1/ready"),
		simpleGet(c, "schema", "Columns of every loaded table", "/v1/schema"),
		newChatCmd(c),
		newPricelistCmd(c),
		newReportCmd(c),
		newAuditCmd(c),
	)
	return root
}

func simpleGet(c *client, use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.do(cmd.Context(), http.MethodGet, path, nil)
		},
	}
}

func newChatCmd(c *client) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "chat <message...>",
		Short: "Ask a question about the dataset",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usageError{errors.New("chat requires a message")}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"message": strings.Join(args, " ")}
			if limit > 0 {
				body["limit"] = limit
			}
			if offset > 0 {
				body["offset"] = offset
			}
			return c.do(cmd.Context(), http.MethodPost, "/v1/chat", body)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (server default when 0)")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newPricelistCmd(c *client) *cobra.Command {
	var (
		search        string
		limit, offset int
	)
	cmd := &cobra.Command{
		Use:   "pricelist",
		Short: "Page through the pricelist",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			values := url.Values{}
			if search != "" {
				values.Set("q", search)
			}
			if limit > 0 {
				values.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				values.Set("offset", strconv.Itoa(offset))
			}
			path := "/v1/pricelist"
			if encoded := values.Encode(); encoded != "" {
				path += "?" + encoded
			}
			return c.do(cmd.Context(), http.MethodGet, path, nil)
		},
	}
	cmd.Flags().StringVarP(&search, "query", "q", "", "case-insensitive name filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newReportCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "report <cid>",
		Short: "Revenue report for one customer",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageError{errors.New("report requires exactly one customer id")}
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return usageError{fmt.Errorf("customer id %q is not an integer", args[0])}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.do(cmd.Context(), http.MethodGet, "/v1/report/customer/"+args[0], nil)
		},
	}
}

func newAuditCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the query audit log",
	}

	var limit int
	recent := &cobra.Command{
		Use:   "recent",
		Short: "Most recent audited queries",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.do(cmd.Context(), http.MethodGet, "/v1/audit/recent?limit="+strconv.Itoa(limit), nil)
		},
	}
	recent.Flags().IntVar(&limit, "limit", 20, "number of records")

	get := &cobra.Command{
		Use:   "get <query-id>",
		Short: "One audited query",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageError{errors.New("audit get requires exactly one query id")}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.do(cmd.Context(), http.MethodGet, "/v1/audit/"+url.PathEscape(args[0]), nil)
		},
	}

	cmd.AddCommand(recent, get)
	return cmd
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageError{fmt.Errorf("%s takes no arguments", cmd.Name())}
	}
	return nil
}

func (c *client) do(ctx context.Context, method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp.StatusCode, responseBody)
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(c.stdout, pretty)
		return nil
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(c.stdout, string(responseBody))
	}
	return nil
}

func decodeAPIError(status int, body []byte) error {
	apiErr := &APIError{Status: status, Body: strings.TrimSpace(string(body))}
	var payload struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = payload.ErrorCode
		apiErr.Message = payload.Message
		apiErr.Retryable = payload.Retryable
	}
	return apiErr
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
