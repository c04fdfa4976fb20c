package main

import (
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// PrintStatus is the subset of a printer report the status bridge reads
type PrintStatus struct {
	SubtaskName     string   `json:"subtask_name,omitempty"`
	McPercent       int      `json:"mc_percent"`
	McRemainingTime int      `json:"mc_remaining_time"`
	CoolingFanSpeed string   `json:"cooling_fan_speed"`
	SpdLvl          int      `json:"spd_lvl"`
	McPrintStage    string   `json:"mc_print_stage"`
	McPrintSubStage int      `json:"mc_print_sub_stage"`
	LayerNum        int      `json:"layer_num"`
	TotalLayerNum   int      `json:"total_layer_num"`
	BedTemper       float64  `json:"bed_temper"`
	NozzleTemper    float64  `json:"nozzle_temper"`
	Ams             *AmsInfo `json:"ams,omitempty"`
}

// AmsInfo is the ams section of a report
type AmsInfo struct {
	Ams     []AmsUnit `json:"ams"`
	TrayNow string    `json:"tray_now"`
}

// AmsUnit is one AMS with up to four trays
type AmsUnit struct {
	ID   string    `json:"id"`
	Tray []AmsTray `json:"tray"`
}

// AmsTray is one filament slot
type AmsTray struct {
	ID          string `json:"id"`
	TrayInfoIdx string `json:"tray_info_idx,omitempty"`
	TrayColor   string `json:"tray_color,omitempty"`
}

// Report is the message published on device/{serial}/report
type Report struct {
	Print PrintStatus `json:"print"`
}

var trayColors = []string{"FF0000FF", "00AE42FF", "0A2989FF", "F4EE2AFF"}

func main() {
	broker := flag.String("broker", "ssl://localhost:8883", "MQTT broker address")
	username := flag.String("username", "bblp", "MQTT username")
	password := flag.String("password", "12345678", "printer access code")
	serial := flag.String("serial", "01S00A000000000", "printer serial")
	mode := flag.String("mode", "print", "run mode: single, print, ams")
	interval := flag.Duration("interval", time.Second, "delay between reports")
	flag.Parse()

	opts := paho.NewClientOptions()
	opts.AddBroker(*broker)
	opts.SetClientID(fmt.Sprintf("bambu-sim-%d", time.Now().Unix()))
	opts.SetUsername(*username)
	opts.SetPassword(*password)
	opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		fmt.Printf("connection lost: %v\n", err)
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		fmt.Printf("failed to connect to MQTT broker: %v\n", token.Error())
		os.Exit(1)
	}
	defer client.Disconnect(250)

	fmt.Printf("connected to MQTT broker: %s\n", *broker)
	topic := fmt.Sprintf("device/%s/report", *serial)

	switch *mode {
	case "single":
		publish(client, topic, snapshot(42, 100))
	case "print":
		simulatePrint(client, topic, *interval)
	case "ams":
		cycleTrays(client, topic, *interval)
	default:
		fmt.Println("unknown mode, use single, print or ams")
		os.Exit(1)
	}
}

func snapshot(layer, total int) Report {
	percent := layer * 100 / total
	return Report{Print: PrintStatus{
		SubtaskName:     "Benchy",
		McPercent:       percent,
		McRemainingTime: (total - layer) * 2,
		CoolingFanSpeed: fmt.Sprint(rand.Intn(16)),
		SpdLvl:          2,
		McPrintStage:    "2",
		McPrintSubStage: 0,
		LayerNum:        layer,
		TotalLayerNum:   total,
		BedTemper:       55 + rand.Float64(),
		NozzleTemper:    219 + rand.Float64()*2,
		Ams:             ams(0),
	}}
}

func ams(active int) *AmsInfo {
	unit := AmsUnit{ID: "0"}
	for i, color := range trayColors {
		unit.Tray = append(unit.Tray, AmsTray{ID: fmt.Sprint(i), TrayInfoIdx: "GFA00", TrayColor: color})
	}
	return &AmsInfo{Ams: []AmsUnit{unit}, TrayNow: fmt.Sprint(active)}
}

// simulatePrint walks through a whole print until interrupted
func simulatePrint(client paho.Client, topic string, interval time.Duration) {
	const total = 120

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for layer := 1; layer <= total; layer++ {
		publish(client, topic, snapshot(layer, total))
		select {
		case <-ticker.C:
		case <-sigChan:
			fmt.Println("interrupted")
			return
		}
	}
	fmt.Println("print finished")
}

// cycleTrays switches the active tray every interval
func cycleTrays(client paho.Client, topic string, interval time.Duration) {
	for i := range trayColors {
		r := Report{Print: PrintStatus{McPrintStage: "2", Ams: ams(i)}}
		publish(client, topic, r)
		time.Sleep(interval)
	}
}

func publish(client paho.Client, topic string, report Report) {
	jsonData, err := json.Marshal(report)
	if err != nil {
		fmt.Printf("failed to encode report: %v\n", err)
		return
	}

	token := client.Publish(topic, 0, false, jsonData)
	token.Wait()
	if token.Error() != nil {
		fmt.Printf("failed to publish: %v\n", token.Error())
		return
	}

	timestamp := time.Now().Format("15:04:05")
	fmt.Printf("[%s] published %s\n", timestamp, string(jsonData))
}
