// Command checksum is an external transmute action. It writes the BLAKE3
// digest of its input file, or of every regular file under an input
// directory, to <input base>.b3 in the output directory.
//
// Build it next to its manifest:
//
//	go build -o plugins/checksum/checksum ./plugins/checksum
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/transmute/internal/protocol"
)

func main() {
	resp := handle(os.Stdin)
	_ = json.NewEncoder(os.Stdout).Encode(resp)
}

func handle(r io.Reader) protocol.Response {
	var req protocol.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return errResp(fmt.Sprintf("invalid request JSON: %v", err))
	}
	if req.Protocol != protocol.Version {
		return errResp(fmt.Sprintf("unsupported protocol %d", req.Protocol))
	}
	if strings.TrimSpace(req.Input) == "" || strings.TrimSpace(req.OutputDir) == "" {
		return errResp("input and output_dir are required")
	}

	suffix := ".b3"
	if v, ok := req.Parameters["suffix"]; ok {
		s, ok := v.(string)
		if !ok || s == "" {
			return errResp("parameter suffix must be a non-empty string")
		}
		suffix = s
	}

	lines, err := digest(req.Input)
	if err != nil {
		return errResp(err.Error())
	}

	name := filepath.Base(req.Input) + suffix
	body := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(req.OutputDir, name), []byte(body), 0o644); err != nil {
		return errResp(fmt.Sprintf("write digest: %v", err))
	}

	return protocol.Response{
		Status:  "ok",
		Outputs: []protocol.Output{{Path: name, Kind: protocol.OutputFile}},
		Logs: []protocol.LogEntry{{
			Level:   "info",
			Message: fmt.Sprintf("hashed %d file(s) from %s", len(lines), filepath.Base(req.Input)),
		}},
	}
}

// digest returns "<hex>  <relative path>" lines, sorted by path.
func digest(input string) ([]string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		sum, err := hashFile(input)
		if err != nil {
			return nil, err
		}
		return []string{sum + "  " + filepath.Base(input)}, nil
	}

	var lines []string
	err = filepath.WalkDir(input, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(input, path)
		if err != nil {
			return err
		}
		sum, err := hashFile(path)
		if err != nil {
			return err
		}
		lines = append(lines, sum+"  "+filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i][66:] < lines[j][66:] })
	return lines, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func errResp(message string) protocol.Response {
	return protocol.Response{
		Status: "error",
		Error:  message,
		Logs:   []protocol.LogEntry{{Level: "error", Message: message}},
	}
}
