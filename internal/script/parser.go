// Package script parses command-list files into a connection spec and the
// commands to replay against the remote shell.
package script

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fgeck/gocmdexec/internal/charset"
	"github.com/fgeck/gocmdexec/internal/models"
)

// fileEncodings is the order command-list files are tried in.
var fileEncodings = []string{"ascii", "utf-8", "shift_jis"}

// Parser reads command-list files.
type Parser struct {
	decoder *charset.Decoder
}

// NewParser creates a parser that decodes files with the default chain.
func NewParser() *Parser {
	return &Parser{decoder: charset.MustNew(fileEncodings...)}
}

// NewParserWithDecoder creates a parser with a custom decoder.
func NewParserWithDecoder(decoder *charset.Decoder) *Parser {
	return &Parser{decoder: decoder}
}

// LoadFile reads and parses a command-list file.
func (p *Parser) LoadFile(path string) (models.ConnectionSpec, models.CommandScript, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.ConnectionSpec{}, models.CommandScript{}, fmt.Errorf("reading command list: %w", err)
	}

	text, err := p.decoder.DecodeAll(raw)
	if err != nil {
		return models.ConnectionSpec{}, models.CommandScript{}, fmt.Errorf("decoding command list %s: %w", path, err)
	}

	spec, cmds, err := p.LoadReader(text)
	cmds.Source = path
	var cfgErr *models.ConfigError
	if errors.As(err, &cfgErr) {
		cfgErr.Source = path
	}
	return spec, cmds, err
}

// LoadReader parses command-list content held in memory.
func (p *Parser) LoadReader(content string) (models.ConnectionSpec, models.CommandScript, error) {
	content = strings.TrimPrefix(content, "\ufeff")
	return Parse(strings.Split(content, "\n"))
}

// Parse turns raw lines into the connection spec and command script. The first
// significant line must be host:port[,username,password].
func Parse(lines []string) (models.ConnectionSpec, models.CommandScript, error) {
	var spec models.ConnectionSpec
	script := models.CommandScript{}
	haveSpec := false

	for _, raw := range lines {
		line := StripComment(raw)
		if strings.TrimSpace(line) == "" {
			continue
		}

		if !haveSpec {
			if !strings.Contains(line, ":") {
				return spec, script, &models.ConfigError{Err: models.ErrMissingIPAddress}
			}
			parsed, err := parseConnectionLine(line)
			if err != nil {
				return spec, script, err
			}
			spec = parsed
			haveSpec = true
			continue
		}

		script.Commands = append(script.Commands, line)
	}

	if !haveSpec {
		return spec, script, &models.ConfigError{Err: models.ErrMissingIPAddress}
	}
	if err := spec.Validate(); err != nil {
		return spec, script, err
	}
	return spec, script, nil
}

func parseConnectionLine(line string) (models.ConnectionSpec, error) {
	spec := models.ConnectionSpec{Port: models.DefaultTelnetPort}

	host, rest, _ := strings.Cut(line, ":")
	spec.Host = strings.TrimSpace(host)
	if spec.Host == "" {
		return spec, &models.ConfigError{Err: models.ErrMissingIPAddress}
	}

	flds := strings.SplitN(rest, ",", 3)
	if port := strings.TrimSpace(flds[0]); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return spec, &models.ConfigError{Field: port, Err: models.ErrInvalidPort}
		}
		spec.Port = n
	}
	if len(flds) > 1 {
		spec.Username = strings.TrimSpace(flds[1])
	}
	if len(flds) > 2 {
		spec.Password = flds[2]
	}
	return spec, nil
}

// StripComment removes a trailing "#..." or "//..." comment and trailing
// whitespace. Applying it twice gives the same result as once.
func StripComment(line string) string {
	cut := len(line)
	if i := strings.Index(line, "#"); i >= 0 && i < cut {
		cut = i
	}
	if i := strings.Index(line, "//"); i >= 0 && i < cut {
		cut = i
	}
	return strings.TrimRight(line[:cut], " \t\r\n")
}
