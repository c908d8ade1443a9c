package protocol

import (
	"bufio"
	"fmt"
	"strings"
	"testing"
)

func TestReadRequestParsesQueryAndBody(t *testing.T) {
	body := "1001\t2025-03-01 08:00:00\t0\t1\n"
	raw := fmt.Sprintf("POST /iclock/cdata?SN=CKUG204460367&table=ATTLOG&Stamp=9999 HTTP/1.1\r\nHost: gate\r\nContent-Length: %d\r\n\r\n%s", len(body), body)

	req, err := readRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("readRequest failed: %v", err)
	}
	if req.Method != "POST" {
		t.Fatalf("expected method POST, got %q", req.Method)
	}
	if req.Path != "/iclock/cdata" {
		t.Fatalf("expected path /iclock/cdata, got %q", req.Path)
	}
	if got := req.Query.Get("table"); got != "ATTLOG" {
		t.Fatalf("expected table ATTLOG, got %q", got)
	}
	if got := req.Query.Get("SN"); got != "CKUG204460367" {
		t.Fatalf("expected serial in query, got %q", got)
	}
	if string(req.Body) != body {
		t.Fatalf("expected body %q, got %q", body, req.Body)
	}
}

func TestReadRequestRejectsGarbage(t *testing.T) {
	cases := []string{
		"\r\n",
		"BOOT\r\n\r\n",
		"GET ://bad HTTP/1.1\r\n\r\n",
	}
	for _, raw := range cases {
		if _, err := readRequest(bufio.NewReader(strings.NewReader(raw))); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestReadRequestBoundsBody(t *testing.T) {
	raw := "POST /iclock/cdata?table=ATTLOG HTTP/1.1\r\nContent-Length: 4194304\r\n\r\n"
	if _, err := readRequest(bufio.NewReader(strings.NewReader(raw))); err == nil {
		t.Fatal("expected oversized body to be rejected")
	}
}

func TestRequestSerialFromBody(t *testing.T) {
	body := "ID=1000&Return=0&CMD=DATA&SN=A8N5234560001"
	raw := fmt.Sprintf("POST /iclock/devicecmd HTTP/1.1\r\nContent-Length: %d\r\n\r\n%s", len(body), body)

	req, err := readRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("readRequest failed: %v", err)
	}
	if got := req.serial(); got != "A8N5234560001" {
		t.Fatalf("expected serial from body, got %q", got)
	}
}
