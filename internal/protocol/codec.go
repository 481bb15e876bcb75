package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// EncodeRequest serializes a Request to JSON and writes it to w.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.Protocol != Version {
		return fmt.Errorf("unsupported protocol version: %d", req.Protocol)
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	return nil
}

// DecodeResponse reads and validates a Response from r.
func DecodeResponse(r io.Reader) (*Response, error) {
	var resp Response

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields() // Strict parsing

	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if err := validate(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DecodeResponseLenient is like DecodeResponse but tolerates unknown fields
// and lines of non-JSON output printed before the response. The raw bytes are
// returned for diagnostics.
func DecodeResponseLenient(r io.Reader) (*Response, []byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, data, fmt.Errorf("action produced no output on stdout")
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		if !unmarshalAfterNoise(data, &resp) {
			return nil, data, fmt.Errorf("action output is not valid JSON: %w", err)
		}
	}
	if err := validate(&resp); err != nil {
		return nil, data, err
	}
	return &resp, data, nil
}

// unmarshalAfterNoise decodes the response from the first line that opens a
// JSON object and parses to the end of the output.
func unmarshalAfterNoise(data []byte, resp *Response) bool {
	for offset := 0; offset < len(data); {
		line := data[offset:]
		if nl := bytes.IndexByte(line, '\n'); nl >= 0 {
			line = line[:nl+1]
		}
		if trimmed := bytes.TrimLeft(line, " \t"); len(trimmed) > 0 && trimmed[0] == '{' && offset > 0 {
			*resp = Response{}
			if json.Unmarshal(data[offset:], resp) == nil {
				return true
			}
		}
		offset += len(line)
	}
	return false
}

func validate(resp *Response) error {
	if resp.Status == "" {
		return fmt.Errorf("response missing required field: status")
	}
	if resp.Status != "ok" && resp.Status != "error" {
		return fmt.Errorf("invalid status value: %q (must be 'ok' or 'error')", resp.Status)
	}
	if resp.Status == "error" && resp.Error == "" {
		return fmt.Errorf("response has status=error but no error message")
	}
	for i, out := range resp.Outputs {
		if out.Path == "" {
			return fmt.Errorf("output %d: path is required", i)
		}
		if out.Kind != OutputFile && out.Kind != OutputDir {
			return fmt.Errorf("output %d: invalid kind %q (must be 'file' or 'dir')", i, out.Kind)
		}
	}
	return nil
}
