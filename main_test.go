package main

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Kighlander1975/dbe-exercise-file-upload/config"
	"github.com/Kighlander1975/dbe-exercise-file-upload/scan"
	"github.com/Kighlander1975/dbe-exercise-file-upload/uploads"
)

func newTestServer(t *testing.T) (*server, *fiber.App, string) {
	t.Helper()

	cfg := config.Default()
	cfg.Server.UploadDir = t.TempDir()
	cfg.Server.WriteMode = true
	cfg.Upload.TusTempDir = filepath.Join(t.TempDir(), "tus")
	cfg.Upload.MaxBytes = 1024
	cfg.Upload.AllowedExt = []string{"txt", "md", "png"}

	store, err := uploads.OpenStore(filepath.Join(t.TempDir(), "uploads.db"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv, err := newServer(cfg, store)
	if err != nil {
		t.Fatalf("newServer failed: %v", err)
	}
	// keep the tree inside the temp dir
	srv.cfg.Browse.TreeRoot = srv.guard.Root()
	return srv, srv.newApp(), srv.guard.Root()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s failed: %v", req.Method, req.URL, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("reading body failed: %v", err)
	}
	return resp, string(body)
}

func TestFileFullContent(t *testing.T) {
	_, app, root := newTestServer(t)
	writeFile(t, filepath.Join(root, "hello.txt"), "0123456789")

	resp, body := doRequest(t, app, httptest.NewRequest("GET", "/file?name=hello.txt", nil))
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, expected 200", resp.StatusCode)
	}
	if body != "0123456789" {
		t.Errorf("body = %q", body)
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		t.Errorf("Accept-Ranges = %q", resp.Header.Get("Accept-Ranges"))
	}
	if resp.Header.Get("ETag") == "" || resp.Header.Get("Last-Modified") == "" {
		t.Errorf("missing validators: %v", resp.Header)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Disposition"), "inline;") {
		t.Errorf("Content-Disposition = %q", resp.Header.Get("Content-Disposition"))
	}
}

func TestFilePartialContent(t *testing.T) {
	_, app, root := newTestServer(t)
	writeFile(t, filepath.Join(root, "hello.txt"), "0123456789")

	req := httptest.NewRequest("GET", "/file?name=hello.txt", nil)
	req.Header.Set("Range", "bytes=2-5")
	resp, body := doRequest(t, app, req)

	if resp.StatusCode != 206 {
		t.Fatalf("status = %d, expected 206", resp.StatusCode)
	}
	if body != "2345" {
		t.Errorf("body = %q", body)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes 2-5/10" {
		t.Errorf("Content-Range = %q", got)
	}
	if got := resp.Header.Get("Content-Length"); got != "4" {
		t.Errorf("Content-Length = %q", got)
	}
}

func TestFileRangeNotSatisfiable(t *testing.T) {
	_, app, root := newTestServer(t)
	writeFile(t, filepath.Join(root, "hello.txt"), "0123456789")

	req := httptest.NewRequest("GET", "/file?name=hello.txt", nil)
	req.Header.Set("Range", "bytes=20-30")
	resp, body := doRequest(t, app, req)

	if resp.StatusCode != 416 {
		t.Fatalf("status = %d, expected 416", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes */10" {
		t.Errorf("Content-Range = %q", got)
	}
	if body != "" {
		t.Errorf("416 carried a body: %q", body)
	}
}

func TestFileNotModified(t *testing.T) {
	_, app, root := newTestServer(t)
	writeFile(t, filepath.Join(root, "hello.txt"), "0123456789")

	resp, _ := doRequest(t, app, httptest.NewRequest("GET", "/file?name=hello.txt", nil))
	etag := resp.Header.Get("ETag")

	req := httptest.NewRequest("GET", "/file?name=hello.txt", nil)
	req.Header.Set("If-None-Match", etag)
	resp, body := doRequest(t, app, req)
	if resp.StatusCode != 304 {
		t.Fatalf("status = %d, expected 304", resp.StatusCode)
	}
	if body != "" {
		t.Errorf("304 carried a body: %q", body)
	}
}

func TestFileHead(t *testing.T) {
	_, app, root := newTestServer(t)
	writeFile(t, filepath.Join(root, "hello.txt"), "0123456789")

	resp, body := doRequest(t, app, httptest.NewRequest("HEAD", "/file?name=hello.txt", nil))
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, expected 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Length"); got != "10" {
		t.Errorf("Content-Length = %q", got)
	}
	if body != "" {
		t.Errorf("HEAD carried a body: %q", body)
	}
}

func TestFileDownloadDisposition(t *testing.T) {
	_, app, root := newTestServer(t)
	writeFile(t, filepath.Join(root, "report.txt"), "x")

	resp, _ := doRequest(t, app, httptest.NewRequest("GET", "/file?name=report.txt&download=1", nil))
	if got := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(got, `attachment; filename="report.txt"`) {
		t.Errorf("Content-Disposition = %q", got)
	}
}

func TestFileRejectsBadNames(t *testing.T) {
	_, app, root := newTestServer(t)
	writeFile(t, filepath.Join(root, "hello.txt"), "0123456789")

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"nul byte", "hello.txt%00.png", 400},
		{"traversal", "../../../etc/passwd", 404},
		{"missing", "nope.txt", 404},
		{"directory", "", 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doRequest(t, app, httptest.NewRequest("GET", "/file?name="+tt.query, nil))
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, expected %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func multipartBody(t *testing.T, folder, name, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("folder", folder); err != nil {
		t.Fatal(err)
	}
	fw, err := w.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func TestUploadRedirectsWithFlash(t *testing.T) {
	srv, app, root := newTestServer(t)

	body, contentType := multipartBody(t, "docs", "notes.txt", "hello")
	req := httptest.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", contentType)
	resp, _ := doRequest(t, app, req)

	if resp.StatusCode != fiber.StatusSeeOther {
		t.Fatalf("status = %d, expected 303", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "/?path=") {
		t.Errorf("Location = %q", loc)
	}
	if !strings.Contains(resp.Header.Get("Set-Cookie"), flashCookie+"=") {
		t.Errorf("no flash cookie set: %v", resp.Header)
	}

	entries, err := os.ReadDir(filepath.Join(root, "docs"))
	if err != nil || len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), "-notes.txt") {
		t.Fatalf("stored files = %v, %v", entries, err)
	}

	recent, err := srv.uploads.Recent(5)
	if err != nil || len(recent) != 1 || recent[0].OriginalName != "notes.txt" {
		t.Errorf("recent = %+v, %v", recent, err)
	}
}

func TestUploadJSONRejections(t *testing.T) {
	_, app, root := newTestServer(t)

	tests := []struct {
		name   string
		folder string
		file   string
		body   string
		status int
		reason string
	}{
		{"extension", "", "tool.exe", "MZ", 415, "extension"},
		{"folder", "../up", "notes.txt", "x", 422, "invalid"},
		{"too large", "", "big.txt", strings.Repeat("x", 2000), 413, "too_large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartBody(t, tt.folder, tt.file, tt.body)
			req := httptest.NewRequest("POST", "/upload", body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Accept", "application/json")
			resp, out := doRequest(t, app, req)

			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, expected %d (%s)", resp.StatusCode, tt.status, out)
			}
			var result map[string]string
			if err := json.Unmarshal([]byte(out), &result); err != nil {
				t.Fatalf("invalid JSON %q: %v", out, err)
			}
			if result["reason"] != tt.reason {
				t.Errorf("reason = %q, expected %q", result["reason"], tt.reason)
			}
		})
	}

	entries, _ := os.ReadDir(root)
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			t.Errorf("rejected upload left %s behind", e.Name())
		}
	}
}

func TestUploadMissingFile(t *testing.T) {
	_, app, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/upload", strings.NewReader("folder=docs"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	resp, _ := doRequest(t, app, req)
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, expected 400", resp.StatusCode)
	}
}

func TestUploadDisabledInReadOnlyMode(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.cfg.Server.WriteMode = false
	app := srv.newApp()

	body, contentType := multipartBody(t, "", "notes.txt", "hello")
	req := httptest.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", contentType)
	resp, _ := doRequest(t, app, req)
	if resp.StatusCode != fiber.StatusMethodNotAllowed && resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, expected upload route to be absent", resp.StatusCode)
	}
}

func TestBrowseJSON(t *testing.T) {
	_, app, root := newTestServer(t)
	writeFile(t, filepath.Join(root, "sub", "deep", "a.txt"), "a")
	writeFile(t, filepath.Join(root, "photo.png"), "not really a png")

	resp, body := doRequest(t, app, httptest.NewRequest("GET", "/api/browse", nil))
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}

	var data browseData
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if data.Path != root || !data.InUploads {
		t.Errorf("path = %q, inUploads = %v", data.Path, data.InUploads)
	}
	if len(data.Breadcrumb) == 0 || data.Breadcrumb[0].Label != "Uploads" {
		t.Errorf("breadcrumb = %+v", data.Breadcrumb)
	}
	if len(data.Tree) != 1 || data.Tree[0].Name != "sub" || !data.Tree[0].HasChildren {
		t.Errorf("tree = %+v", data.Tree)
	}

	var photo *entryView
	for i := range data.Entries {
		if data.Entries[i].Name == "photo.png" {
			photo = &data.Entries[i]
		}
	}
	if photo == nil {
		t.Fatalf("photo.png missing from %+v", data.Entries)
	}
	if photo.FileURL != "/file?name=photo.png" || !photo.Image || !photo.Inline {
		t.Errorf("photo entry = %+v", photo)
	}
}

func TestBrowseMissingDirectory(t *testing.T) {
	_, app, root := newTestServer(t)

	q := url.QueryEscape(filepath.Join(root, "missing"))
	resp, _ := doRequest(t, app, httptest.NewRequest("GET", "/api/browse?path="+q, nil))
	if resp.StatusCode != 404 {
		t.Errorf("status = %d, expected 404", resp.StatusCode)
	}
}

func TestTreeLevel(t *testing.T) {
	_, app, root := newTestServer(t)
	writeFile(t, filepath.Join(root, "a", "b", "c", "x.txt"), "x")

	q := url.QueryEscape(filepath.Join(root, "a"))
	resp, body := doRequest(t, app, httptest.NewRequest("GET", "/api/tree?path="+q, nil))
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}

	var level struct {
		Nodes []struct {
			Name        string `json:"name"`
			Depth       int    `json:"depth"`
			HasChildren bool   `json:"hasChildren"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal([]byte(body), &level); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(level.Nodes) != 1 || level.Nodes[0].Name != "b" || level.Nodes[0].Depth != 1 || !level.Nodes[0].HasChildren {
		t.Errorf("nodes = %+v", level.Nodes)
	}
}

func TestIndexShowsFlashOnce(t *testing.T) {
	_, app, root := newTestServer(t)
	writeFile(t, filepath.Join(root, "readme.md"), "# hi")

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Cookie", flashCookie+"="+url.QueryEscape("success:Uploaded readme.md"))
	resp, body := doRequest(t, app, req)

	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, `class="flash success"`) || !strings.Contains(body, "Uploaded readme.md") {
		t.Errorf("flash missing from page")
	}
	if !strings.Contains(body, "/preview?name=readme.md") {
		t.Errorf("markdown preview link missing")
	}
	if !strings.Contains(resp.Header.Get("Set-Cookie"), flashCookie+"=") {
		t.Errorf("flash cookie was not cleared")
	}
}

func TestPreviewAndExif(t *testing.T) {
	_, app, root := newTestServer(t)
	writeFile(t, filepath.Join(root, "notes", "readme.md"), "# Hello\n")
	writeFile(t, filepath.Join(root, "plain.png"), "no exif here")

	resp, body := doRequest(t, app, httptest.NewRequest("GET", "/preview?name=notes/readme.md", nil))
	if resp.StatusCode != 200 || !strings.Contains(body, `<h1 id="hello">Hello</h1>`) {
		t.Errorf("preview status = %d, body = %s", resp.StatusCode, body)
	}

	resp, body = doRequest(t, app, httptest.NewRequest("GET", "/exif?path=plain.png", nil))
	if resp.StatusCode != 200 || !strings.Contains(body, `"success":true`) {
		t.Errorf("exif status = %d, body = %s", resp.StatusCode, body)
	}

	resp, body = doRequest(t, app, httptest.NewRequest("GET", "/exif?path=missing.jpg", nil))
	if resp.StatusCode != 404 || !strings.Contains(body, `"success":false`) {
		t.Errorf("missing exif status = %d, body = %s", resp.StatusCode, body)
	}
}

func TestZipDownload(t *testing.T) {
	_, app, root := newTestServer(t)
	writeFile(t, filepath.Join(root, "album", "one.txt"), "1")
	writeFile(t, filepath.Join(root, "album", ".hidden"), "h")

	resp, body := doRequest(t, app, httptest.NewRequest("GET", "/zip?name=album", nil))
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "application/zip" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if !strings.HasPrefix(body, "PK") || !strings.Contains(body, "one.txt") || strings.Contains(body, ".hidden") {
		t.Errorf("unexpected archive content")
	}

	resp, _ = doRequest(t, app, httptest.NewRequest("GET", "/zip?name=album/one.txt", nil))
	if resp.StatusCode != 400 {
		t.Errorf("zip of a file: status = %d, expected 400", resp.StatusCode)
	}
}

func TestRecentUploadsEndpoint(t *testing.T) {
	srv, app, _ := newTestServer(t)
	for _, name := range []string{"a.txt", "b.txt"} {
		if _, err := srv.uploads.Save("", name, 1, strings.NewReader("x")); err != nil {
			t.Fatal(err)
		}
	}

	resp, body := doRequest(t, app, httptest.NewRequest("GET", "/api/uploads?limit=1", nil))
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Uploads []uploads.Record `json:"uploads"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Uploads) != 1 || out.Uploads[0].OriginalName != "b.txt" {
		t.Errorf("uploads = %+v", out.Uploads)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(1, 2)
	if !rl.Allow("1.1.1.1") || !rl.Allow("1.1.1.1") {
		t.Fatal("burst should be allowed")
	}
	if rl.Allow("1.1.1.1") {
		t.Error("third request within a minute should be refused")
	}
	if !rl.Allow("2.2.2.2") {
		t.Error("other clients have their own bucket")
	}

	unlimited := newRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !unlimited.Allow("1.1.1.1") {
			t.Fatal("a zero rate must disable limiting")
		}
	}
}

func TestListingSort(t *testing.T) {
	srv, _, root := newTestServer(t)
	writeFile(t, filepath.Join(root, "small.txt"), "x")
	writeFile(t, filepath.Join(root, "large.txt"), strings.Repeat("x", 100))
	writeFile(t, filepath.Join(root, "zdir", "f.txt"), "x")

	items := srv.listing(root, sortBySize, "desc")

	var names []string
	for _, it := range items {
		if !it.IsSpecial {
			names = append(names, it.Name)
		}
	}
	want := []string{"zdir", "large.txt", "small.txt"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, expected %v", names, want)
	}
}

func TestListingSortDescKeepsTiesInNameOrder(t *testing.T) {
	srv, _, root := newTestServer(t)
	for _, name := range []string{"c.txt", "a.txt", "b.txt"} {
		writeFile(t, filepath.Join(root, name), "same")
	}
	writeFile(t, filepath.Join(root, "big.txt"), strings.Repeat("x", 50))

	for _, order := range []string{"asc", "desc"} {
		var names []string
		for _, it := range srv.listing(root, sortBySize, order) {
			if !it.IsSpecial {
				names = append(names, it.Name)
			}
		}
		want := "a.txt,b.txt,c.txt,big.txt"
		if order == "desc" {
			want = "big.txt,a.txt,b.txt,c.txt"
		}
		if got := strings.Join(names, ","); got != want {
			t.Errorf("%s order = %s, expected %s", order, got, want)
		}
	}
}

func TestDirWatcherReportsChanges(t *testing.T) {
	dir := t.TempDir()
	changed := make(chan struct{}, 1)

	var w dirWatcher
	defer w.close()
	if err := w.watch(dir, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}

	writeFile(t, filepath.Join(dir, "new.txt"), "x")

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
}

func TestDirWatcherSilentAfterClose(t *testing.T) {
	dir := t.TempDir()
	changed := make(chan struct{}, 1)

	var w dirWatcher
	if err := w.watch(dir, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}

	// let the event arm the debounce timer, then close before it fires
	writeFile(t, filepath.Join(dir, "new.txt"), "x")
	time.Sleep(watchDebounce / 5)
	w.close()

	select {
	case <-changed:
		t.Fatal("change reported after close")
	case <-time.After(2 * watchDebounce):
	}
}

func TestTreeDepth(t *testing.T) {
	tests := []struct {
		base, dir string
		want      int
	}{
		{"/", "/", 0},
		{"/", "/home", 1},
		{"/", "/home/user/docs", 3},
		{"/srv/up", "/srv/up/a", 1},
		{"/srv/up", "/etc", 0},
	}
	for _, tt := range tests {
		if got := treeDepth(tt.base, tt.dir); got != tt.want {
			t.Errorf("treeDepth(%q, %q) = %d, expected %d", tt.base, tt.dir, got, tt.want)
		}
	}
}

func TestTreeCacheLifecycle(t *testing.T) {
	srv, app, root := newTestServer(t)
	writeFile(t, filepath.Join(root, "a", "b", "x.txt"), "x")

	doRequest(t, app, httptest.NewRequest("GET", "/api/browse", nil))
	if srv.treeCache.Len() == 0 {
		t.Fatal("navigation left no cached levels")
	}

	// the lazy level for the root is served from what the navigation cached
	resp, body := doRequest(t, app, httptest.NewRequest("GET", "/api/tree?path="+url.QueryEscape(root), nil))
	if resp.StatusCode != 200 || !strings.Contains(body, `"name":"a"`) {
		t.Errorf("tree level = %d %s", resp.StatusCode, body)
	}

	if _, err := srv.uploads.Save("", "new.txt", 1, strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	if n := srv.treeCache.Len(); n != 0 {
		t.Errorf("cache holds %d levels after an upload", n)
	}
}

func TestUploadedFilesAreServable(t *testing.T) {
	srv, app, root := newTestServer(t)

	for _, name := range []string{"report (1).txt", "my  notes.txt", "_draft_.txt", "plain.txt"} {
		rec, err := srv.uploads.Save("", name, 5, strings.NewReader("hello"))
		if err != nil {
			t.Fatalf("Save(%q) failed: %v", name, err)
		}

		resp, body := doRequest(t, app, httptest.NewRequest("GET", "/file?name="+url.QueryEscape(rec.RelativePath), nil))
		if resp.StatusCode != 200 || body != "hello" {
			t.Errorf("%q stored as %q: GET /file = %d %q", name, rec.RelativePath, resp.StatusCode, body)
		}
	}

	// files placed by hand under names /file cannot resolve get no links
	writeFile(t, filepath.Join(root, "odd  name.txt"), "x")
	for _, v := range srv.entryViews(scan.List(root, srv.hidden)) {
		if v.FileURL == "" && !v.IsDir && !v.IsSpecial && v.Name != "odd  name.txt" {
			t.Errorf("%s: missing file link", v.Name)
		}
		if v.Name == "odd  name.txt" && (v.FileURL != "" || v.DownloadURL != "") {
			t.Errorf("unresolvable name got links %q, %q", v.FileURL, v.DownloadURL)
		}
	}
}
