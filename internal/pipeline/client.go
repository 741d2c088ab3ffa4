// Package pipeline is the client side of the external TTS generation
// pipeline: chunk audio retrieval, chapter manifests, chunk-generation
// requests, and the catalog-growth event feed.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"aloud/internal/catalog"
)

// ChunkDescriptor is the wire form of one catalog entry.
type ChunkDescriptor struct {
	ID            string  `json:"id"`
	Index         int     `json:"index"`
	StartPosition int     `json:"startPosition"`
	EndPosition   int     `json:"endPosition"`
	AudioDuration float64 `json:"audioDuration"`
	AudioSize     int64   `json:"audioSize"`
	VoiceID       string  `json:"voiceId"`
}

func (d ChunkDescriptor) chunk() catalog.Chunk {
	return catalog.Chunk{
		ID:            d.ID,
		Index:         d.Index,
		StartPosition: d.StartPosition,
		EndPosition:   d.EndPosition,
		AudioDuration: d.AudioDuration,
		AudioSize:     d.AudioSize,
		VoiceID:       d.VoiceID,
	}
}

// Client talks HTTP to the generation pipeline. It implements both
// decode.Fetcher and playback.Generator.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchAudio GETs the raw audio bytes for one chunk.
func (c *Client) FetchAudio(ctx context.Context, chunkID string) ([]byte, error) {
	url := fmt.Sprintf("%s/chunks/%s/audio", c.baseURL, chunkID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch audio for chunk %s: %w", chunkID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch audio for chunk %s: status %d", chunkID, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// LoadChapter fetches the chapter's current chunk manifest and builds a
// catalog from it. The pipeline may still be generating; the catalog grows
// later through the Watcher.
func (c *Client) LoadChapter(ctx context.Context, chapterID string) (*catalog.Catalog, error) {
	url := fmt.Sprintf("%s/chapters/%s/chunks", c.baseURL, chapterID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load chapter %s: %w", chapterID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("load chapter %s: status %d", chapterID, resp.StatusCode)
	}

	var descriptors []ChunkDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&descriptors); err != nil {
		return nil, fmt.Errorf("decode chapter %s manifest: %w", chapterID, err)
	}

	cat := catalog.New()
	for _, d := range descriptors {
		if err := cat.Append(d.chunk()); err != nil {
			return nil, fmt.Errorf("chapter %s manifest: %w", chapterID, err)
		}
	}
	return cat, nil
}

// RequestChunk asks the pipeline to generate audio for a chunk index the
// catalog does not contain yet. Completion is observed through catalog
// growth, not through this call.
func (c *Client) RequestChunk(ctx context.Context, chapterID string, index int) error {
	url := fmt.Sprintf("%s/chapters/%s/chunks", c.baseURL, chapterID)
	body, err := json.Marshal(map[string]int{"index": index})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request chunk %d of chapter %s: %w", index, chapterID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("request chunk %d of chapter %s: status %d", index, chapterID, resp.StatusCode)
	}
	return nil
}
