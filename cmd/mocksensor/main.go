// Command mocksensor publishes simulated sensor readings to the broker so
// the service can be exercised without hardware. Each keypress fires one
// reading on the chosen channel with a random force.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

var (
	broker    = flag.String("broker", "tcp://broker.mqtt.cool:1883", "Broker URL")
	deviceID  = flag.String("device", "mocup_sensor", "Device id to publish as")
	namespace = flag.String("namespace", "espboxing", "Topic namespace")
)

type payload struct {
	Reed     int            `json:"reed"`
	Critical bool           `json:"critical"`
	Forces   map[string]int `json:"forces"`
}

func reading(sensor int) payload {
	p := payload{Forces: map[string]int{"A0": 0, "A1": 0, "A3": 0, "A4": 0}}
	switch sensor {
	case 2:
		// A2 is the reed sensor
		p.Reed = rand.Intn(301) + 100
	default:
		channels := []string{"A0", "A1", "A3", "A4"}
		idx := sensor
		if sensor > 2 {
			idx = sensor - 1
		}
		p.Forces[channels[idx]] = rand.Intn(301) + 100
	}
	return p
}

func main() {
	flag.Parse()

	opts := mqtt.NewClientOptions().
		AddBroker(*broker).
		SetClientID("mocksensor-" + uuid.NewString()[:8])
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	defer client.Disconnect(250)
	fmt.Printf("Connected to broker: %s\n", *broker)

	topic := fmt.Sprintf("%s/sensors/%s", *namespace, *deviceID)

	fmt.Println("Enter number to simulate sensors:")
	fmt.Println("0 - Force sensor A0")
	fmt.Println("1 - Force sensor A1")
	fmt.Println("2 - Reed sensor A2")
	fmt.Println("3 - Force sensor A3")
	fmt.Println("4 - Force sensor A4")
	fmt.Println("q - Quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("Enter sensor number (0-4) or 'q' to quit: ")
		if !scanner.Scan() {
			break
		}
		key := strings.TrimSpace(scanner.Text())
		if key == "q" {
			break
		}
		sensor, err := strconv.Atoi(key)
		if err != nil || sensor < 0 || sensor > 4 {
			fmt.Println("Invalid input. Please enter 0-4 or 'q'")
			continue
		}

		p := reading(sensor)
		data, err := json.Marshal(p)
		if err != nil {
			log.Fatalf("failed to marshal payload: %v", err)
		}
		if token := client.Publish(topic, 0, false, data); token.Wait() && token.Error() != nil {
			fmt.Printf("Failed to send data: %v\n", token.Error())
			continue
		}
		fmt.Printf("Sent data: %s\n", data)
	}
	fmt.Println("Disconnected from broker")
}
