// mock_server.go
//
// A standalone fake chat server for manual end-to-end testing. It implements
// the login handshake (auto-confirming the QR scan after a short delay), the
// sync-check long poll, message fetch, and send. Point a profile's hosts at
// localhost:8090 with https disabled at the transport to exercise the full
// client without a real account.
//
// Run with: go run mock_server.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// mockState holds the scripted conversation state
type mockState struct {
	mu        sync.Mutex
	scannedAt time.Time
	loggedIn  bool
	syncVal   int64
	pending   []mockMessage
}

type mockMessage struct {
	MsgID        string `json:"MsgId"`
	MsgType      int64  `json:"MsgType"`
	FromUserName string `json:"FromUserName"`
	ToUserName   string `json:"ToUserName"`
	Content      string `json:"Content"`
	CreateTime   int64  `json:"CreateTime"`
}

var state = &mockState{syncVal: 100}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/jslogin", jsLoginHandler)
	mux.HandleFunc("/qrcode/", qrCodeHandler)
	mux.HandleFunc("/cgi-bin/mmwebwx-bin/login", loginPollHandler)
	mux.HandleFunc("/cgi-bin/mmwebwx-bin/webwxnewloginpage", newLoginPageHandler)
	mux.HandleFunc("/cgi-bin/mmwebwx-bin/webwxinit", initHandler)
	mux.HandleFunc("/cgi-bin/mmwebwx-bin/webwxstatusnotify", statusNotifyHandler)
	mux.HandleFunc("/cgi-bin/mmwebwx-bin/webwxgetcontact", getContactHandler)
	mux.HandleFunc("/cgi-bin/mmwebwx-bin/webwxbatchgetcontact", batchGetContactHandler)
	mux.HandleFunc("/cgi-bin/mmwebwx-bin/synccheck", syncCheckHandler)
	mux.HandleFunc("/cgi-bin/mmwebwx-bin/webwxsync", syncHandler)
	mux.HandleFunc("/cgi-bin/mmwebwx-bin/webwxsendmsg", sendMsgHandler)

	go chatterLoop()

	log.Printf("mock chat server listening on :8090")
	log.Fatal(http.ListenAndServe(":8090", mux))
}

// chatterLoop queues a scripted inbound message every few seconds once the
// client is logged in
func chatterLoop() {
	lines := []string{
		"hello from the mock server",
		"@member1:<br/>group chatter works too",
		"try sending something back",
	}
	i := 0
	for range time.Tick(5 * time.Second) {
		state.mu.Lock()
		if state.loggedIn {
			from := "@mockpeer"
			if strings.HasPrefix(lines[i%len(lines)], "@member1:") {
				from = "@@mockgroup"
			}
			state.pending = append(state.pending, mockMessage{
				MsgID:        fmt.Sprintf("mock-%d", time.Now().UnixNano()),
				MsgType:      1,
				FromUserName: from,
				ToUserName:   "@mockuser",
				Content:      lines[i%len(lines)],
				CreateTime:   time.Now().Unix(),
			})
			i++
		}
		state.mu.Unlock()
	}
}

func jsLoginHandler(w http.ResponseWriter, r *http.Request) {
	log.Printf("jslogin from %s", r.RemoteAddr)
	state.mu.Lock()
	state.scannedAt = time.Now().Add(3 * time.Second)
	state.mu.Unlock()
	fmt.Fprint(w, `window.QRLogin.code = 200; window.QRLogin.uuid = "mock-uuid==";`)
}

func qrCodeHandler(w http.ResponseWriter, r *http.Request) {
	log.Printf("qrcode fetch for %s", r.URL.Path)
	w.Header().Set("Content-Type", "image/jpeg")
	// not a real image, the client only saves and displays the path
	w.Write([]byte("\xff\xd8\xff\xe0mock-qr-jpeg"))
}

func loginPollHandler(w http.ResponseWriter, r *http.Request) {
	state.mu.Lock()
	scanned := time.Now().After(state.scannedAt)
	state.mu.Unlock()

	if !scanned {
		log.Printf("login poll: not scanned yet")
		fmt.Fprint(w, "window.code=201;")
		return
	}
	log.Printf("login poll: confirming scan")
	fmt.Fprintf(w, `window.code=200;window.redirect_uri="http://%s/cgi-bin/mmwebwx-bin/webwxnewloginpage?ticket=mock-ticket";`, r.Host)
}

func newLoginPageHandler(w http.ResponseWriter, r *http.Request) {
	log.Printf("newloginpage: issuing credentials")
	http.SetCookie(w, &http.Cookie{Name: "wxsid", Value: "mock-sid", Path: "/"})
	http.SetCookie(w, &http.Cookie{Name: "wxuin", Value: "99999", Path: "/"})
	fmt.Fprint(w, `<error><ret>0</ret><skey>@mock-skey</skey><wxsid>mock-sid</wxsid><wxuin>99999</wxuin><pass_ticket>mock-pass</pass_ticket></error>`)
}

func initHandler(w http.ResponseWriter, r *http.Request) {
	logBody("webwxinit", r)
	state.mu.Lock()
	state.loggedIn = true
	state.mu.Unlock()

	writeJSON(w, map[string]any{
		"BaseResponse": map[string]any{"Ret": 0, "ErrMsg": ""},
		"User":         map[string]any{"UserName": "@mockuser", "NickName": "Mock User", "Uin": 99999},
		"SyncKey": map[string]any{
			"Count": 1,
			"List":  []map[string]int64{{"Key": 1, "Val": state.syncVal}},
		},
		"ContactList": []map[string]any{
			{
				"UserName": "@@mockgroup", "NickName": "Mock Group",
				"MemberList": []map[string]any{
					{"UserName": "@member1", "NickName": "Member One"},
					{"UserName": "@mockuser", "NickName": "Mock User"},
				},
			},
		},
	})
}

func statusNotifyHandler(w http.ResponseWriter, r *http.Request) {
	logBody("webwxstatusnotify", r)
	writeJSON(w, map[string]any{"BaseResponse": map[string]any{"Ret": 0}})
}

func getContactHandler(w http.ResponseWriter, r *http.Request) {
	log.Printf("webwxgetcontact")
	writeJSON(w, map[string]any{
		"BaseResponse": map[string]any{"Ret": 0},
		"MemberCount":  2,
		"MemberList": []map[string]any{
			{"UserName": "@mockpeer", "NickName": "Mock Peer"},
			{"UserName": "@member1", "NickName": "Member One"},
		},
	})
}

func batchGetContactHandler(w http.ResponseWriter, r *http.Request) {
	logBody("webwxbatchgetcontact", r)
	writeJSON(w, map[string]any{
		"BaseResponse": map[string]any{"Ret": 0},
		"ContactList": []map[string]any{
			{
				"UserName": "@@mockgroup", "NickName": "Mock Group",
				"MemberList": []map[string]any{
					{"UserName": "@member1", "NickName": "Member One"},
				},
			},
		},
	})
}

func syncCheckHandler(w http.ResponseWriter, r *http.Request) {
	// hold the poll until something is pending, up to the usual ~25s
	deadline := time.Now().Add(25 * time.Second)
	for time.Now().Before(deadline) {
		state.mu.Lock()
		n := len(state.pending)
		state.mu.Unlock()
		if n > 0 {
			fmt.Fprint(w, `window.synccheck={retcode:"0",selector:"2"}`)
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
	fmt.Fprint(w, `window.synccheck={retcode:"0",selector:"0"}`)
}

func syncHandler(w http.ResponseWriter, r *http.Request) {
	logBody("webwxsync", r)
	state.mu.Lock()
	msgs := state.pending
	state.pending = nil
	state.syncVal++
	val := state.syncVal
	state.mu.Unlock()

	writeJSON(w, map[string]any{
		"BaseResponse": map[string]any{"Ret": 0},
		"AddMsgList":   msgs,
		"SyncCheckKey": map[string]any{
			"Count": 1,
			"List":  []map[string]int64{{"Key": 1, "Val": val}},
		},
	})
}

func sendMsgHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	log.Printf("webwxsendmsg: %s", body)

	var req struct {
		Msg struct {
			Content    string `json:"Content"`
			ToUserName string `json:"ToUserName"`
			LocalID    string `json:"LocalID"`
		} `json:"Msg"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, fmt.Sprintf("JSON decode error: %v", err), http.StatusBadRequest)
		return
	}

	// echo the sent message back through the sync channel
	state.mu.Lock()
	state.pending = append(state.pending, mockMessage{
		MsgID:        fmt.Sprintf("echo-%d", time.Now().UnixNano()),
		MsgType:      1,
		FromUserName: "@mockuser",
		ToUserName:   req.Msg.ToUserName,
		Content:      req.Msg.Content,
		CreateTime:   time.Now().Unix(),
	})
	state.mu.Unlock()

	writeJSON(w, map[string]any{
		"BaseResponse": map[string]any{"Ret": 0},
		"MsgID":        fmt.Sprintf("srv-%d", time.Now().UnixNano()),
		"LocalID":      req.Msg.LocalID,
	})
}

func logBody(name string, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	log.Printf("%s: %s", name, body)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: failed to encode response: %v", err)
	}
}
