// Package protocol serves the push protocol the attendance devices speak:
// plain HTTP over a dedicated TCP port per device, with fixed reply framing
// the firmware parses byte for byte.
package protocol

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/attlog"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/config"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/observability"
)

// capabilityTemplate is the options reply the firmware requests at boot.
// Stamps are pinned high so the device keeps pushing its full backlog
// instead of only deltas.
const capabilityTemplate = "GET OPTION FROM:%s\n" +
	"Stamp=9999\n" +
	"OpStamp=9999\n" +
	"PhotoStamp=0\n" +
	"TransFlag=TransData AttLog\tOpLog\tAttPhoto\tEnrollUser\tChgUser\tEnrollFP\tChgFP\tFPImag\tFACE\tUserPic\tWORKCODE\tBioPhoto\n" +
	"ErrorDelay=120\n" +
	"Delay=10\n" +
	"TimeZone=120\n" +
	"TransTimes=\n" +
	"TransInterval=30\n" +
	"SyncTime=0\n" +
	"Realtime=1\n" +
	"ServerVer=2.2.14 2025/02/19\n" +
	"PushProtVer=2.4.1\n" +
	"PushOptionsFlag=1\n" +
	"ATTLOGStamp=9999\n" +
	"OPERLOGStamp=9999\n" +
	"ATTPHOTOStamp=0\n" +
	"ServerName=Logtime Server\n" +
	"MultiBioDataSupport=0:1:0:0:0:0:0:0:0:"

// Handler answers the requests of a single configured device endpoint.
type Handler struct {
	Device     config.DeviceConfig
	Commander  *Commander
	Normalizer *attlog.Normalizer
}

// ServeConn reads one request from the stream and writes the reply. The
// firmware opens a fresh connection per request, so one exchange per
// connection matches the devices.
func (h *Handler) ServeConn(rw io.ReadWriter) error {
	req, err := readRequest(bufio.NewReader(rw))
	if err != nil {
		return err
	}
	serial := req.serial()
	if serial == "" {
		serial = h.Device.Serial
	}

	var body, kind string
	switch {
	case req.Method == "GET" && req.Path == "/iclock/getrequest":
		body, kind = h.poll(req)
	case req.Method == "POST" && req.Path == "/iclock/cdata" && strings.EqualFold(req.Query.Get("table"), "ATTLOG"):
		h.Normalizer.HandleBatch(serial, h.Device.Name, req.Body)
		body, kind = "OK", "attlog"
	case req.Method == "POST" && req.Path == "/iclock/cdata":
		// OPERLOG and the other tables are acknowledged and dropped.
		body, kind = "OK", "cdata"
	case req.Method == "GET" && req.Path == "/iclock/cdata" && req.Query.Get("options") == "all":
		body, kind = fmt.Sprintf(capabilityTemplate, serial), "options"
	case req.Method == "POST" && req.Path == "/iclock/devicecmd":
		h.commandResult(req.Body)
		body, kind = "OK", "devicecmd"
	default:
		body, kind = "OK", "other"
	}
	observability.DeviceRequestsTotal.WithLabelValues(serial, kind).Inc()
	return writeReply(rw, body)
}

// poll answers /iclock/getrequest. INFO polls carry a device status report
// and never consume the command cycle.
func (h *Handler) poll(req *request) (body, kind string) {
	if req.Query.Has("INFO") {
		return "OK", "info"
	}
	if cmd, ok := h.Commander.Issue(h.Device.Serial); ok {
		return cmd, "command"
	}
	return "OK", "poll"
}

// commandResult digests a /iclock/devicecmd body of the form
// ID=<id>&Return=<code>&CMD=<verb>.
func (h *Handler) commandResult(body []byte) {
	vals, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		slog.Warn("unparseable devicecmd body", "serial", h.Device.Serial, "error", err)
		return
	}
	id, err := strconv.ParseInt(vals.Get("ID"), 10, 64)
	if err != nil {
		slog.Warn("devicecmd reply without usable ID", "serial", h.Device.Serial)
		return
	}
	if ret := vals.Get("Return"); ret != "0" {
		slog.Warn("device reported command failure", "serial", h.Device.Serial, "id", id, "return", ret)
		return
	}
	h.Commander.MarkDelivered(id)
}
