package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"
)

// ShellQueryTimeout bounds a $(command) query
const ShellQueryTimeout = 30 * time.Second

// ErrNoMatch is returned when a filter or query selects nothing from the report
var ErrNoMatch = errors.New("no report field matched")

// $(command)
var shellQuery = regexp.MustCompile(`^\$\((.+)\)$`)

// reportFields lists the top-level keys a query can start from
const reportFields = "run, checks, vus"

// Query narrows doc with a JMESPath filter and then selects from the result
// with query. A query written as $(command) receives the filtered report as
// JSON on stdin and its output is returned instead.
func Query(doc *Document, filter, query string) (string, error) {
	data, err := toGeneric(doc)
	if err != nil {
		return "", err
	}

	if filter != "" {
		if data, err = search(data, filter, "filter"); err != nil {
			return "", err
		}
	}

	if command, ok := ShellCommand(query); ok {
		body, err := json.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("failed to encode report: %w", err)
		}
		return runShell(body, command)
	}

	if query != "" {
		if data, err = search(data, query, "query"); err != nil {
			return "", err
		}
	}

	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode query result: %w", err)
	}
	return string(out), nil
}

// ShellCommand returns the command of a $(command) query
func ShellCommand(query string) (string, bool) {
	m := shellQuery.FindStringSubmatch(query)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// toGeneric converts doc into the maps and slices JMESPath walks, keyed by json tags
func toGeneric(doc *Document) (any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return data, nil
}

func search(data any, expr, kind string) (any, error) {
	jp, err := jmespath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid report %s %q: %w", kind, expr, err)
	}
	result, err := jp.Search(data)
	if err != nil {
		return nil, fmt.Errorf("report %s %q failed: %w", kind, expr, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: %s %q (report fields: %s)", ErrNoMatch, kind, expr, reportFields)
	}
	return result, nil
}

func runShell(body []byte, command string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ShellQueryTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdin = bytes.NewReader(body)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := err.Error()
		if stderr.Len() > 0 {
			msg = strings.TrimSpace(stderr.String())
		}
		return "", fmt.Errorf("report query command %q failed: %s", command, msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}
