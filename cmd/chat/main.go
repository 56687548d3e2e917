package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"fitclub/backend/internal/chatsync"
)

func login(apiAddr, userID string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"user_id": userID})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}
	return loginResp.Token, nil
}

func main() {
	wsAddr := flag.String("ws", "ws://localhost:8080/ws", "websocket endpoint")
	apiAddr := flag.String("api", "http://localhost:8080", "api base address")
	userID := flag.String("user", "member1", "your user id")
	userName := flag.String("name", "", "your display name")
	peerID := flag.String("peer", "trainer1", "peer user id")
	flag.Parse()

	log.Printf("Logging in as %s...", *userID)
	token, err := login(*apiAddr, *userID)
	if err != nil {
		log.Fatal("Login failed: ", err)
	}

	session := chatsync.NewSession(chatsync.Config{
		BaseURL:     *wsAddr,
		UserID:      *userID,
		UserName:    *userName,
		PeerID:      *peerID,
		Token:       token,
		LoadHistory: chatsync.NewHTTPHistoryLoader(*apiAddr, token, nil),
		Persist:     chatsync.NewHTTPPersister(*apiAddr, token, nil),
		OnChange: func(snap chatsync.Snapshot) {
			if n := len(snap.Messages); n > 0 {
				last := snap.Messages[n-1]
				fmt.Printf("\r[%s] %s: %s (%s)\n> ",
					last.Timestamp.Format(time.Kitchen), last.SenderID, last.Content, last.Status)
			}
			if snap.LastError != "" {
				fmt.Printf("\r! %s\n> ", snap.LastError)
			}
		},
	})
	session.Run()
	defer session.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			switch text {
			case "":
			case "/quit":
				interrupt <- os.Interrupt
				return
			case "/reconnect":
				session.Reconnect()
			case "/clear":
				session.Clear()
			default:
				session.Send(text, "")
			}
			fmt.Print("> ")
		}
	}()

	<-interrupt
	log.Println("shutting down")
	session.Disconnect(true)
}
