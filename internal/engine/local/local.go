// Package local is the in-process conversion engine: it fetches the source
// document over HTTP, streams the audio file through a checksum and packs
// both into a zip archive.
package local

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"conversion-job-service/internal/engine"
	"conversion-job-service/internal/entity"
	"conversion-job-service/internal/failure"
)

const (
	defaultChunkSize   = 256 * 1024
	defaultMaxDocBytes = 32 * 1024 * 1024
)

type Config struct {
	HTTPClient       *http.Client
	FetchTimeout     time.Duration
	MaxDocumentBytes int64
	ChunkSize        int
}

type Engine struct {
	client    *http.Client
	maxDoc    int64
	chunkSize int
	log       zerolog.Logger
}

var _ engine.Engine = (*Engine)(nil)

func New(cfg Config, logger zerolog.Logger) *Engine {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}
	maxDoc := cfg.MaxDocumentBytes
	if maxDoc <= 0 {
		maxDoc = defaultMaxDocBytes
	}
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}

	return &Engine{
		client:    client,
		maxDoc:    maxDoc,
		chunkSize: chunk,
		log:       logger.With().Str("component", "engine").Logger(),
	}
}

func (e *Engine) FetchSource(ctx context.Context, sourceURL string, sink engine.ProgressSink) (*engine.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, &engine.InputError{Stage: entity.StageFetchSource, Message: "invalid source URL", Err: err}
	}
	req.Header.Set("Accept", "text/html, text/plain;q=0.9")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, failure.Network(
			fmt.Sprintf("source returned HTTP %d", resp.StatusCode), nil,
			"verify the source URL is reachable", "check network connectivity and retry",
		)
	}
	if resp.ContentLength > e.maxDoc {
		return nil, tooLargeDoc(e.maxDoc)
	}

	body, err := e.readAll(ctx, resp.Body, resp.ContentLength, entity.StageFetchSource, sink)
	if err != nil {
		return nil, err
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	var title string
	var items []string
	if mediaType == "text/plain" {
		items = splitParagraphs(string(body))
	} else {
		title, items, err = extractHTML(body)
		if err != nil {
			return nil, &engine.InputError{Stage: entity.StageFetchSource, Message: "source document is not valid HTML", Err: err}
		}
	}
	if len(items) == 0 {
		return nil, &engine.InputError{Stage: entity.StageFetchSource, Message: "source document has no readable content"}
	}

	e.log.Debug().Str("source", sourceURL).Int("items", len(items)).Int("bytes", len(body)).Msg("source fetched")
	return &engine.Document{Source: sourceURL, Title: title, Items: items, Bytes: int64(len(body))}, nil
}

func (e *Engine) readAll(ctx context.Context, r io.Reader, total int64, stage string, sink engine.ProgressSink) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, e.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if int64(buf.Len()) > e.maxDoc {
			return nil, tooLargeDoc(e.maxDoc)
		}
		if total > 0 {
			report(sink, stage, float64(buf.Len())/float64(total))
		}

		if errors.Is(err, io.EOF) {
			report(sink, stage, 1)
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (e *Engine) IngestAudio(ctx context.Context, audioPath string, sink engine.ProgressSink) (*engine.Audio, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, &engine.InputError{Stage: entity.StageIngestAudio, Message: "audio file is empty"}
	}

	head := make([]byte, 3072)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	detected := mimetype.Detect(head[:n])
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	hash := sha256.New()
	chunk := make([]byte, e.chunkSize)
	var read int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, rerr := f.Read(chunk)
		hash.Write(chunk[:n])
		read += int64(n)
		report(sink, entity.StageIngestAudio, float64(read)/float64(info.Size()))

		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return nil, rerr
		}
	}

	return &engine.Audio{
		Path:     audioPath,
		MIME:     detected.String(),
		Bytes:    read,
		Checksum: hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

type manifest struct {
	Source    string    `json:"source"`
	Title     string    `json:"title,omitempty"`
	ItemCount int       `json:"item_count"`
	Audio     audioInfo `json:"audio"`
	CreatedAt time.Time `json:"created_at"`
}

type audioInfo struct {
	File     string `json:"file"`
	MIME     string `json:"mime"`
	Bytes    int64  `json:"bytes"`
	Checksum string `json:"sha256"`
}

func (e *Engine) AssembleOutput(ctx context.Context, in engine.AssembleInput, sink engine.ProgressSink) (*engine.Package, error) {
	if in.Document == nil || in.Audio == nil {
		return nil, &engine.InputError{Stage: entity.StageAssembleOutput, Message: "document and audio are required"}
	}

	out, err := os.OpenFile(in.StagingPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	pkg, err := e.writePackage(ctx, out, in, sink)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(in.StagingPath)
		return nil, err
	}
	return pkg, nil
}

func (e *Engine) writePackage(ctx context.Context, out *os.File, in engine.AssembleInput, sink engine.ProgressSink) (*engine.Package, error) {
	bw := bufio.NewWriter(out)
	zw := zip.NewWriter(bw)

	// items and audio bytes share the stage progress evenly by volume
	var docBytes int64
	for _, item := range in.Document.Items {
		docBytes += int64(len(item))
	}
	total := docBytes + in.Audio.Bytes
	var done int64
	advance := func(n int64) {
		done += n
		if total > 0 {
			report(sink, entity.StageAssembleOutput, float64(done)/float64(total))
		}
	}

	audioName := "audio/" + filepath.Base(in.Audio.Path)
	m := manifest{
		Source:    in.Document.Source,
		Title:     in.Document.Title,
		ItemCount: len(in.Document.Items),
		Audio: audioInfo{
			File:     audioName,
			MIME:     in.Audio.MIME,
			Bytes:    in.Audio.Bytes,
			Checksum: in.Audio.Checksum,
		},
		CreatedAt: time.Now().UTC(),
	}
	w, err := zw.Create("manifest.json")
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(w).Encode(m); err != nil {
		return nil, err
	}

	for i, item := range in.Document.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w, err := zw.Create(fmt.Sprintf("items/%04d.txt", i+1))
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, item); err != nil {
			return nil, err
		}
		advance(int64(len(item)))
	}

	if err := e.copyAudio(ctx, zw, audioName, in.Audio.Path, advance); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	info, err := out.Stat()
	if err != nil {
		return nil, err
	}

	report(sink, entity.StageAssembleOutput, 1)
	return &engine.Package{Path: in.StagingPath, ItemCount: len(in.Document.Items), Bytes: info.Size()}, nil
}

func (e *Engine) copyAudio(ctx context.Context, zw *zip.Writer, name, src string, advance func(int64)) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return err
	}

	chunk := make([]byte, e.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := f.Read(chunk)
		if n > 0 {
			if _, err := w.Write(chunk[:n]); err != nil {
				return err
			}
			advance(int64(n))
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func report(sink engine.ProgressSink, stage string, fraction float64) {
	if sink == nil {
		return
	}
	if fraction > 1 {
		fraction = 1
	}
	sink(entity.StageProgressSample{Stage: stage, Fraction: fraction})
}

func tooLargeDoc(limit int64) error {
	return failure.ResourceLimit(
		fmt.Sprintf("source document exceeds %s", humanize.IBytes(uint64(limit))), nil,
		fmt.Sprintf("use a source document smaller than %s", humanize.IBytes(uint64(limit))),
	)
}

// blockTags hold one readable item each.
var blockTags = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "blockquote": true, "pre": true,
}

func extractHTML(body []byte) (string, []string, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", nil, err
	}

	var (
		title string
		items []string
	)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "script" || n.Data == "style":
				return
			case n.Data == "title" && title == "":
				title = normalise(textOf(n))
				return
			case blockTags[n.Data]:
				if t := normalise(textOf(n)); t != "" {
					items = append(items, t)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return title, items, nil
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func splitParagraphs(s string) []string {
	var items []string
	for _, p := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n\n") {
		if t := normalise(p); t != "" {
			items = append(items, t)
		}
	}
	return items
}

func normalise(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
