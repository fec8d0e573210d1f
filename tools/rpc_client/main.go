package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	jsonrpc "github.com/tendermint/tendermint/rpc/jsonrpc/types"
)

const (
	sendTimeout = 10 * time.Second
)

func connect(host string) (*websocket.Conn, *http.Response, error) {
	u := url.URL{Scheme: "ws", Host: host, Path: "/websocket"}
	return websocket.DefaultDialer.Dial(u.String(), nil)
}

func main() {
	var (
		host   = flag.String("host", "127.0.0.1:26657", "rpc host:port")
		method = flag.String("method", "add_rule", "rpc method")
	)
	flag.Parse()

	var params map[string]interface{}
	switch *method {
	case "add_rule":
		params = map[string]interface{}{
			"subject":    "alice",
			"resource":   "reports",
			"permission": "READ",
		}
	case "remove_rule", "get_rule":
		params = map[string]interface{}{
			"subject":  "alice",
			"resource": "reports",
		}
	default:
		params = map[string]interface{}{}
	}

	c, _, err := connect(*host)
	if err != nil {
		fmt.Printf("failed to connect to %s: %v\n", *host, err)
		os.Exit(1)
	}
	defer c.Close()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		fmt.Printf("failed to encode params: %v\n", err)
		os.Exit(1)
	}

	c.SetWriteDeadline(time.Now().Add(sendTimeout))
	err = c.WriteJSON(jsonrpc.RPCRequest{
		JSONRPC: "2.0",
		ID:      jsonrpc.JSONRPCStringID("rpc-client"),
		Method:  *method,
		Params:  json.RawMessage(paramsJSON),
	})
	if err != nil {
		fmt.Printf("failed to send request: %v\n", err)
		os.Exit(1)
	}

	c.SetReadDeadline(time.Now().Add(sendTimeout))
	_, resp, err := c.ReadMessage()
	if err != nil {
		fmt.Printf("failed to read response: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(resp))
}
