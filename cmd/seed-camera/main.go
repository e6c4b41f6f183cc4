// Command seed-camera inserts a demo camera (and its default notification
// policy) for local development.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/technosupport/camguard/internal/cameras"
	"github.com/technosupport/camguard/internal/data"
)

func main() {
	name := flag.String("name", "Demo Bedroom Camera", "camera name")
	room := flag.String("room", "bedroom", "room type")
	monitoring := flag.String("monitoring", "elderly", "monitoring type (elderly|babies)")
	language := flag.String("language", "en", "caregiver language")
	primary := flag.String("primary", "+15550100", "primary contact number")
	backup := flag.String("backup", "+15550101", "backup contact number")
	flag.Parse()

	db, err := sql.Open("postgres", os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("seed-camera: open postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("seed-camera: ping postgres: %v", err)
	}

	svc := cameras.NewService(data.CameraModel{DB: db}, data.PolicyModel{DB: db})
	cam := &data.Camera{
		Name:           *name,
		RoomType:       *room,
		MonitoringType: *monitoring,
		Language:       *language,
		PrimaryContact: *primary,
		BackupContact:  *backup,
		VoiceEnabled:   true,
		SMSEnabled:     true,
	}
	if err := svc.Create(ctx, cam); err != nil {
		log.Fatalf("seed-camera: create: %v", err)
	}
	fmt.Println(cam.ID)
}
