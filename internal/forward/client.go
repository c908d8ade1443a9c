package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/model"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/store"
)

// Client talks to the aggregation API. All endpoints live under
// {base}/{appID}/{token}/...; the token doubles as a bearer credential on
// the create call.
type Client struct {
	baseURL    string
	appID      string
	token      string
	httpClient *http.Client
}

type httpStatusError struct {
	status int
	body   string
}

func (e httpStatusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("API returned status %d", e.status)
	}
	return fmt.Sprintf("API returned status %d: %s", e.status, e.body)
}

// IsRemoteRejection reports whether err is a non-2xx reply rather than a
// transport failure, for log classification.
func IsRemoteRejection(err error) bool {
	var se httpStatusError
	return errors.As(err, &se)
}

func New(baseURL, appID, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		appID:   appID,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Ack is the remote acknowledgement for one forwarded punch. The three
// values land verbatim in the row's forward columns.
type Ack struct {
	Status string
	Key    string
	ID     string
}

type punchPayload struct {
	ZKID      string `json:"ZKID"`
	Timestamp string `json:"Timestamp"`
	InorOut   int    `json:"InorOut"`
	AtType    int    `json:"attype"`
	SN        string `json:"SN"`
	Device    string `json:"Device"`
}

// ForwardPunch posts one attendance row to the create endpoint. Success is
// strictly HTTP 200 with a non-empty acknowledgement array; anything else
// leaves the row unforwarded.
func (c *Client) ForwardPunch(ctx context.Context, row store.AttendanceRecord) (Ack, error) {
	ts, err := time.Parse(model.TimeLayout, row.PunchedAt)
	if err != nil {
		return Ack{}, fmt.Errorf("punch %s has unparseable timestamp %q: %w", row.ExternalID, row.PunchedAt, err)
	}
	payload := punchPayload{
		ZKID:      row.ExternalID,
		Timestamp: ts.Format(model.RemoteTimeLayout),
		InorOut:   row.Direction,
		AtType:    row.EventType,
		SN:        row.DeviceSerial,
		Device:    row.DeviceLabel,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Ack{}, err
	}

	u := fmt.Sprintf("%s/%s/%s/ZK_stage/create.json", c.baseURL, c.appID, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return Ack{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Ack{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return Ack{}, httpStatusError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}

	var acks []map[string]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&acks); err != nil {
		return Ack{}, fmt.Errorf("decode forward reply: %w", err)
	}
	if len(acks) == 0 {
		return Ack{}, errors.New("forward reply carried no acknowledgement")
	}
	first := acks[0]
	return Ack{
		Status: anyToString(first["status"]),
		Key:    anyToString(first["key"]),
		ID:     anyToString(first["id"]),
	}, nil
}

// FetchDeviceRoster pulls the remote device register. Row schemas vary per
// deployment, so serial and label are recovered from the first matching key.
func (c *Client) FetchDeviceRoster(ctx context.Context) ([]store.RosterDevice, error) {
	rows, err := c.fetchRows(ctx, fmt.Sprintf("%s/%s/%s/ZK%%20Device/select.json", c.baseURL, c.appID, c.token))
	if err != nil {
		return nil, err
	}
	out := make([]store.RosterDevice, 0, len(rows))
	for _, row := range rows {
		serial := firstString(row, "SN", "Serial", "Serial_Number", "Serial Number")
		if serial == "" {
			continue
		}
		out = append(out, store.RosterDevice{
			RemoteID: anyToInt(row["Id"]),
			Serial:   serial,
			Label:    firstString(row, "Device", "Device_Name", "Device Name", "Name"),
		})
	}
	return out, nil
}

// FetchStaffRoster pulls the remote staff register.
func (c *Client) FetchStaffRoster(ctx context.Context) ([]store.RosterStaff, error) {
	rows, err := c.fetchRows(ctx, fmt.Sprintf("%s/%s/%s/Staff/ZK_DATA/select.json", c.baseURL, c.appID, c.token))
	if err != nil {
		return nil, err
	}
	out := make([]store.RosterStaff, 0, len(rows))
	for _, row := range rows {
		extID := firstString(row, "Staff_Id", "Staff Id", "ZKID")
		if extID == "" {
			continue
		}
		out = append(out, store.RosterStaff{
			RemoteID:      anyToInt(row["Id"]),
			ExternalID:    extID,
			Name:          firstString(row, "Employee_Name", "Employee Name", "Name"),
			AccessControl: firstString(row, "Access_Control", "Access Control"),
		})
	}
	return out, nil
}

func (c *Client) fetchRows(ctx context.Context, u string) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, httpStatusError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}

	var rows []map[string]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode roster reply: %w", err)
	}
	return rows, nil
}

func anyToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return fmt.Sprintf("%v", t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func anyToInt(v any) int64 {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0
		}
		return n
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func firstString(row map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(anyToString(row[k])); s != "" {
			return s
		}
	}
	return ""
}
