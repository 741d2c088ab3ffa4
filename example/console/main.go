// Console client for the playback control surface. It connects to the
// engine's WebSocket, loads a chapter, and drives the transport from
// stdin while printing state and position events.
//
// Usage:
//
//	go run ./example/console -addr ws://localhost:8090/ws -chapter ch1
//
// Commands: play, pause, toggle, next, prev, seek <seconds>,
// speed <rate>, volume <level>, quit.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"aloud/pkg/ws"
)

type command struct {
	Action    string  `json:"action"`
	ChapterID string  `json:"chapterId,omitempty"`
	Seconds   float64 `json:"seconds,omitempty"`
	Value     float64 `json:"value,omitempty"`
}

type event struct {
	Type     string `json:"type"`
	State    string `json:"state,omitempty"`
	Index    int    `json:"index,omitempty"`
	ChunkID  string `json:"chunkId,omitempty"`
	Position *struct {
		ChunkIndex  int     `json:"chunkIndex"`
		ChunkTime   float64 `json:"chunkTime"`
		ChapterTime float64 `json:"chapterTime"`
	} `json:"position,omitempty"`
	Error string `json:"error,omitempty"`
}

type printer struct{}

func (printer) OnOpen(c *ws.Client) {
	fmt.Println("connected")
}

func (printer) OnMessage(c *ws.Client, msgType int, msg []byte) {
	var ev event
	if err := json.Unmarshal(msg, &ev); err != nil {
		return
	}
	switch ev.Type {
	case "state":
		fmt.Printf("state: %s\n", ev.State)
	case "chunk":
		fmt.Printf("chunk: %d (%s)\n", ev.Index, ev.ChunkID)
	case "chunk_needed":
		fmt.Printf("waiting for chunk %d to be generated\n", ev.Index)
	case "position":
		if ev.Position != nil {
			fmt.Printf("\rchapter %6.1fs  chunk %d @ %5.1fs ",
				ev.Position.ChapterTime, ev.Position.ChunkIndex, ev.Position.ChunkTime)
		}
	case "error":
		fmt.Printf("error: %s\n", ev.Error)
	}
}

func (printer) OnError(c *ws.Client, err error) {
	logrus.Warnf("connection error: %v", err)
}

func (printer) OnClose(c *ws.Client) {
	fmt.Println("\ndisconnected")
	os.Exit(0)
}

func main() {
	addr := flag.String("addr", "ws://localhost:8090/ws", "engine control WebSocket")
	chapter := flag.String("chapter", "", "chapter id to load")
	flag.Parse()
	if *chapter == "" {
		logrus.Fatal("-chapter is required")
	}

	client, err := ws.Dial(context.Background(), *addr, printer{}, ws.Options{})
	if err != nil {
		logrus.Fatalf("dial %s: %v", *addr, err)
	}
	defer client.Close()

	send := func(cmd command) {
		data, _ := json.Marshal(cmd)
		if err := client.SendText(data); err != nil {
			logrus.Fatalf("send: %v", err)
		}
	}

	send(command{Action: "load_chapter", ChapterID: *chapter})
	send(command{Action: "play"})

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		arg := 0.0
		if len(fields) > 1 {
			arg, _ = strconv.ParseFloat(fields[1], 64)
		}
		switch fields[0] {
		case "play", "pause", "toggle", "next", "prev":
			send(command{Action: fields[0]})
		case "seek":
			send(command{Action: "seek_chapter", Seconds: arg})
		case "speed":
			send(command{Action: "set_speed", Value: arg})
		case "volume":
			send(command{Action: "set_volume", Value: arg})
		case "quit":
			return
		default:
			fmt.Println("commands: play pause toggle next prev seek <s> speed <r> volume <v> quit")
		}
	}
}
