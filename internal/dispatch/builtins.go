package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"seven/internal/plugins"
)

// builtinFunc executes one built-in action against the host.
type builtinFunc func(ctx context.Context, d *Dispatcher, data json.RawMessage) plugins.Result

// builtins is the fixed action set the model may request directly.
var builtins = map[string]builtinFunc{
	"open_url":      doOpenURL,
	"get_time":      doGetTime,
	"get_date":      doGetDate,
	"play_media":    doPlayMedia,
	"web_search":    doWebSearch,
	"show_alert":    doShowAlert,
	"system_info":   doSystemInfo,
	"send_message":  doSendMessage,
	"open_whatsapp": doOpenWhatsApp,
}

// BuiltinNames returns the supported action names, for diagnostics.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	return names
}

// dataString extracts a plain string payload: either a JSON string or the
// raw text of any other JSON value.
func dataString(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(data))
}

// dataObject decodes an object payload into out. A plain-string payload is
// tolerated by returning false so callers can fall back to dataString.
func dataObject(data json.RawMessage, out any) bool {
	if len(data) == 0 {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

// openWithFallback opens a URL through the host, degrading to a result that
// carries the URL for the caller to surface when the host cannot open it.
func openWithFallback(d *Dispatcher, rawURL, spoken string) plugins.Result {
	if err := d.host.OpenURL(rawURL); err != nil {
		return plugins.Result{
			Success: true,
			Message: fmt.Sprintf("%s Open this yourself: %s", spoken, rawURL),
			Data:    map[string]any{"url": rawURL, "opened": false},
		}
	}
	return plugins.Result{
		Success: true,
		Message: spoken,
		Data:    map[string]any{"url": rawURL, "opened": true},
	}
}

func doOpenURL(ctx context.Context, d *Dispatcher, data json.RawMessage) plugins.Result {
	var obj struct {
		URL string `json:"url"`
	}
	target := dataString(data)
	if dataObject(data, &obj) && obj.URL != "" {
		target = obj.URL
	}
	if target == "" {
		return failure("open_url needs a url")
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return failure("refusing to open %q: only http(s) URLs are supported", target)
	}
	return openWithFallback(d, target, "Opening "+u.Host+".")
}

func doGetTime(ctx context.Context, d *Dispatcher, data json.RawMessage) plugins.Result {
	now := d.now()
	return plugins.Result{
		Success: true,
		Message: "It's " + now.Format("3:04 PM") + ".",
		Data:    map[string]any{"time": now.Format("15:04:05")},
	}
}

func doGetDate(ctx context.Context, d *Dispatcher, data json.RawMessage) plugins.Result {
	now := d.now()
	return plugins.Result{
		Success: true,
		Message: "Today is " + now.Format("Monday, January 2, 2006") + ".",
		Data:    map[string]any{"date": now.Format("2006-01-02")},
	}
}

func doPlayMedia(ctx context.Context, d *Dispatcher, data json.RawMessage) plugins.Result {
	var obj struct {
		Query string `json:"query"`
	}
	query := dataString(data)
	if dataObject(data, &obj) && obj.Query != "" {
		query = obj.Query
	}
	if query == "" {
		return failure("play_media needs a query")
	}
	target := "https://www.youtube.com/results?search_query=" + url.QueryEscape(query)
	return openWithFallback(d, target, fmt.Sprintf("Playing %s.", query))
}

func doWebSearch(ctx context.Context, d *Dispatcher, data json.RawMessage) plugins.Result {
	var obj struct {
		Query string `json:"query"`
	}
	query := dataString(data)
	if dataObject(data, &obj) && obj.Query != "" {
		query = obj.Query
	}
	if query == "" {
		return failure("web_search needs a query")
	}
	target := "https://www.google.com/search?q=" + url.QueryEscape(query)
	return openWithFallback(d, target, fmt.Sprintf("Searching for %s.", query))
}

func doShowAlert(ctx context.Context, d *Dispatcher, data json.RawMessage) plugins.Result {
	var obj struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	}
	text := dataString(data)
	title := "Seven"
	if dataObject(data, &obj) && obj.Text != "" {
		text = obj.Text
		if obj.Title != "" {
			title = obj.Title
		}
	}
	if text == "" {
		return failure("show_alert needs text")
	}
	if err := d.host.Notify(title, text); err != nil {
		return failure("could not show alert: %v", err)
	}
	return plugins.Result{Success: true, Message: text}
}

func doSystemInfo(ctx context.Context, d *Dispatcher, data json.RawMessage) plugins.Result {
	hostname, _ := os.Hostname()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return plugins.Result{
		Success: true,
		Message: fmt.Sprintf("Running on %s (%s/%s), %d CPUs.", hostname, runtime.GOOS, runtime.GOARCH, runtime.NumCPU()),
		Data: map[string]any{
			"hostname":   hostname,
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
			"cpus":       runtime.NumCPU(),
			"go_version": runtime.Version(),
			"heap_mb":    mem.HeapAlloc / (1 << 20),
		},
	}
}

func doSendMessage(ctx context.Context, d *Dispatcher, data json.RawMessage) plugins.Result {
	var obj struct {
		To   string `json:"to"`
		Body string `json:"body"`
	}
	if !dataObject(data, &obj) || obj.To == "" {
		return failure("send_message needs {to, body}")
	}
	target := "sms:" + url.PathEscape(obj.To)
	if obj.Body != "" {
		target += "?body=" + url.QueryEscape(obj.Body)
	}
	if err := d.host.OpenURL(target); err != nil {
		return failure("no messaging handler available: %v", err)
	}
	return plugins.Result{
		Success: true,
		Message: fmt.Sprintf("Drafting a message to %s.", obj.To),
		Data:    map[string]any{"to": obj.To},
	}
}

func doOpenWhatsApp(ctx context.Context, d *Dispatcher, data json.RawMessage) plugins.Result {
	var obj struct {
		To   string `json:"to"`
		Text string `json:"text"`
	}
	if !dataObject(data, &obj) || obj.To == "" {
		return failure("open_whatsapp needs {to}")
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, obj.To)
	if digits == "" {
		return failure("open_whatsapp needs a phone number, got %q", obj.To)
	}
	target := "https://wa.me/" + digits
	if obj.Text != "" {
		target += "?text=" + url.QueryEscape(obj.Text)
	}
	return openWithFallback(d, target, "Opening WhatsApp.")
}

func failure(format string, args ...any) plugins.Result {
	return plugins.Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// now honors the test clock when one is set.
func (d *Dispatcher) now() time.Time {
	if d.clock != nil {
		return d.clock()
	}
	return time.Now()
}
