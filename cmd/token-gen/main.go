// Command token-gen mints a stream JWT for local WebSocket testing.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/technosupport/camguard/internal/tokens"
)

func main() {
	subject := flag.String("subject", "caregiver", "token subject")
	cameraID := flag.String("camera", "", "restrict to one camera (empty for all)")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	key := os.Getenv("JWT_SIGNING_KEY")
	if key == "" {
		key = "dev-signing-key-change-me"
	}

	token, err := tokens.NewManager(key).GenerateStreamToken(*subject, *cameraID, *ttl)
	if err != nil {
		log.Fatalf("token-gen: %v", err)
	}
	fmt.Println(token)
}
