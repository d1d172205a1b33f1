package office

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type convertCall struct {
	From    string
	To      string
	Timeout time.Duration
	Body    []byte
}

func (c *Client) postConvert(ctx context.Context, call convertCall, maxOutput int64) ([]byte, error) {
	q := url.Values{}
	q.Set("from", call.From)
	q.Set("to", call.To)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/convert?"+q.Encode(), bytes.NewReader(call.Body))
	if err != nil {
		return nil, fmt.Errorf("create convert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if call.Timeout > 0 {
		req.Header.Set("X-Conversion-Timeout", strconv.Itoa(int(call.Timeout.Seconds())))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("office convert request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, formatStatusError("convert", resp)
	}

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxOutput+1))
	if err != nil {
		return nil, fmt.Errorf("read convert response: %w", err)
	}
	if int64(len(out)) > maxOutput {
		return nil, errOutputTooLarge
	}
	return out, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func formatStatusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	statusErr := &HTTPStatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
	var parsed errorBody
	if json.Unmarshal(body, &parsed) == nil {
		statusErr.Code = parsed.Code
		if parsed.Message != "" {
			statusErr.Body = parsed.Message
		}
	}
	return statusErr
}
