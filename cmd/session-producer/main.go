package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
)

// SessionSubmission mirrors the ingest message format
type SessionSubmission struct {
	UserID   string     `json:"user_id"`
	Distance float64    `json:"distance"`
	Duration float64    `json:"duration"`
	Date     *time.Time `json:"date,omitempty"`
	Type     string     `json:"type,omitempty"`
	Weather  string     `json:"weather,omitempty"`
	Feeling  string     `json:"feeling,omitempty"`
	Notes    string     `json:"notes,omitempty"`
}

var runnerPrefixes = []string{
	"Pacer", "Strider", "Sprinter", "Trail", "Marathon", "Tempo", "Dash", "Cruiser", "Glider", "Chaser",
	"Comet", "Rocket", "Gazelle", "Cheetah", "Falcon", "Swift", "Breeze", "Stampede", "Drift", "Surge",
	"Miler", "Roadie", "Summit", "Valley", "River", "Ridge", "Delta", "Canyon", "Meadow", "Harbor",
}

var runTypes = []string{"easy", "easy", "easy", "tempo", "tempo", "interval", "long", "long", "race"}
var weathers = []string{"sunny", "sunny", "cloudy", "cloudy", "rainy", "windy"}
var feelings = []string{"excellent", "good", "good", "average", "average", "poor"}

func getRunnerName(idx int) string {
	prefixIdx := idx % len(runnerPrefixes)
	suffix := idx/len(runnerPrefixes) + 1
	return fmt.Sprintf("%s%d", runnerPrefixes[prefixIdx], suffix)
}

// randomSession produces a plausible running session: distance by run
// type, duration from a speed between 8 and 15 km/h, date within the
// current week.
func randomSession(userID string) SessionSubmission {
	runType := runTypes[rand.Intn(len(runTypes))]

	var distance float64
	switch runType {
	case "long":
		distance = 12 + rand.Float64()*18
	case "race":
		distance = 5 + rand.Float64()*37
	case "interval":
		distance = 3 + rand.Float64()*7
	default:
		distance = 3 + rand.Float64()*9
	}
	distance = math.Round(distance*10) / 10

	speed := 8 + rand.Float64()*7
	duration := math.Round(distance / speed * 60)

	date := time.Now().Add(-time.Duration(rand.Intn(6*24)) * time.Hour)

	return SessionSubmission{
		UserID:   userID,
		Distance: distance,
		Duration: duration,
		Date:     &date,
		Type:     runType,
		Weather:  weathers[rand.Intn(len(weathers))],
		Feeling:  feelings[rand.Intn(len(feelings))],
	}
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "running-sessions", "Kafka topic")
	totalRunners := flag.Int("runners", 200, "Total number of runners to simulate")
	sessionsPerSecond := flag.Int("rate", 20, "Sessions per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	initialOnly := flag.Bool("initial-only", false, "Only send one session per runner, no continuous updates")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  🏃 Running Session Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Total Runners:    %d\n", *totalRunners)
	fmt.Printf("  Sessions/sec:     %d\n", *sessionsPerSecond)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Create producer
	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	// Send message helper
	sendMessage := func(submission SessionSubmission) {
		data, err := json.Marshal(submission)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(submission.UserID),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
			return
		}
	}

	// Seed the week with one session per runner
	fmt.Printf("Seeding %d runners with an initial session...\n", *totalRunners)
	for i := 0; i < *totalRunners; i++ {
		sendMessage(randomSession(getRunnerName(i)))
		if (i+1)%50 == 0 || i+1 == *totalRunners {
			progress := float64(i+1) / float64(*totalRunners) * 100
			fmt.Printf("\r  Progress: %d/%d runners (%.1f%%)", i+1, *totalRunners, progress)
		}
	}
	fmt.Printf("\n✓ Seeded %d runners\n\n", *totalRunners)

	if *initialOnly {
		fmt.Println("Initial-only mode: Exiting after seeding runners")
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
		return
	}

	// Start continuous session flow
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Starting continuous session flow (%d/sec)\n", *sessionsPerSecond)
	fmt.Println("Frequent runners have 70% chance to log (to create rank movement)")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	interval := time.Second / time.Duration(*sessionsPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var sessionCount int64

	for {
		select {
		case <-sigChan:
			fmt.Println("\n\nShutting down...")
			close(done)
			producer.AsyncClose()
			wg.Wait()
			fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				fmt.Println("\n\nDuration reached, shutting down...")
				close(done)
				producer.AsyncClose()
				wg.Wait()
				fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
				return
			}

			// 70% chance to pick from the 20 most frequent runners
			var runnerIdx int
			if rand.Intn(100) < 70 {
				runnerIdx = rand.Intn(20)
			} else {
				runnerIdx = rand.Intn(*totalRunners-20) + 20
			}

			sendMessage(randomSession(getRunnerName(runnerIdx)))
			atomic.AddInt64(&sessionCount, 1)

		case <-statsTicker.C:
			sessions := atomic.LoadInt64(&sessionCount)
			success := atomic.LoadInt64(&successCount)
			errors := atomic.LoadInt64(&errorCount)
			fmt.Printf("[%s] Sessions: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				sessions,
				success,
				errors,
			)
		}
	}
}
