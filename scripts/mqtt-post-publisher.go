package main

// Утилита для нагрузочного тестирования MQTT моста: симулирует
// устройства, публикующие сообщения в топик {prefix}/post.
//
// Токены устройств должны быть предварительно зарегистрированы через
// POST /api/v1/register, иначе сервер отбросит публикации.
//
// Пример:
//   go run scripts/mqtt-post-publisher.go -broker tcp://localhost:1883 \
//     -devices 5 -rate 500ms -lat 66.40 -lon 15.44

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type publisherConfig struct {
	brokerURL   string
	topicPrefix string
	devices     int
	rate        time.Duration
	maxMessages int
	seed        int64
	startLat    float64
	startLon    float64
	walkMeters  float64
}

type device struct {
	token string
	name  string
	lat   float64
	lon   float64
}

type postPayload struct {
	Token     string  `json:"token"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Message   string  `json:"message"`
}

var phrases = []string{
	"anyone around?",
	"great weather up here",
	"meeting at the north trailhead",
	"found a good spot for lunch",
	"heading back down",
	"who else is on this route?",
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func makeToken(rng *rand.Rand) string {
	buf := make([]byte, 36)
	for i := range buf {
		buf[i] = tokenAlphabet[rng.Intn(len(tokenAlphabet))]
	}
	return string(buf)
}

func main() {
	cfg := publisherConfig{}
	flag.StringVar(&cfg.brokerURL, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.StringVar(&cfg.topicPrefix, "prefix", "geoshout", "topic prefix")
	flag.IntVar(&cfg.devices, "devices", 3, "number of simulated devices")
	flag.DurationVar(&cfg.rate, "rate", time.Second, "publish interval per device")
	flag.IntVar(&cfg.maxMessages, "max", 0, "stop after N messages (0 = unlimited)")
	flag.Int64Var(&cfg.seed, "seed", time.Now().UnixNano(), "random seed")
	flag.Float64Var(&cfg.startLat, "lat", 66.40, "start latitude")
	flag.Float64Var(&cfg.startLon, "lon", 15.44, "start longitude")
	flag.Float64Var(&cfg.walkMeters, "walk", 10, "max random walk step, meters")
	flag.Parse()

	rng := rand.New(rand.NewSource(cfg.seed))

	devices := make([]*device, cfg.devices)
	for i := range devices {
		devices[i] = &device{
			token: makeToken(rng),
			name:  fmt.Sprintf("sim-device-%d", i+1),
			lat:   cfg.startLat,
			lon:   cfg.startLon,
		}
		log.Printf("device %s token=%s", devices[i].name, devices[i].token)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.brokerURL)
	opts.SetClientID(fmt.Sprintf("geoshout-post-publisher-%d", os.Getpid()))
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to %s: %v", cfg.brokerURL, token.Error())
	}
	defer client.Disconnect(1000)
	log.Printf("connected to %s", cfg.brokerURL)

	topic := cfg.topicPrefix + "/post"
	ticker := time.NewTicker(cfg.rate)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	published := 0
	for {
		select {
		case <-sigChan:
			log.Printf("stopping, published %d messages", published)
			return
		case <-ticker.C:
			d := devices[rng.Intn(len(devices))]

			// Случайное блуждание вокруг стартовой точки
			d.lat += (rng.Float64()*2 - 1) * cfg.walkMeters / 111320.0
			d.lon += (rng.Float64()*2 - 1) * cfg.walkMeters / 55000.0

			payload, err := json.Marshal(postPayload{
				Token:     d.token,
				Latitude:  d.lat,
				Longitude: d.lon,
				Message:   fmt.Sprintf("[%s] %s", d.name, phrases[rng.Intn(len(phrases))]),
			})
			if err != nil {
				log.Fatalf("marshal: %v", err)
			}

			if token := client.Publish(topic, 1, false, payload); token.Wait() && token.Error() != nil {
				log.Printf("publish failed: %v", token.Error())
				continue
			}
			published++

			if cfg.maxMessages > 0 && published >= cfg.maxMessages {
				log.Printf("done, published %d messages", published)
				return
			}
		}
	}
}
