package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/xid"
)

var (
	queueURLs        []string
	region           string
	numberOfMessages int
	concurrency      int
	sendTimeout      time.Duration
	sendInterval     time.Duration
)

func init() {
	urls := getEnv("SQS_QUEUE_URLS", "")
	if urls == "" {
		fmt.Fprintf(os.Stderr, "ERROR: SQS_QUEUE_URLS environment variable is required\n")
		os.Exit(1)
	}
	for _, u := range strings.Split(urls, ",") {
		if u = strings.TrimSpace(u); u != "" {
			queueURLs = append(queueURLs, u)
		}
	}

	region = getEnv("AWS_REGION", "us-east-1")
	numberOfMessages = getEnvInt("LOAD_TEST_MESSAGES", 200)
	concurrency = getEnvInt("LOAD_TEST_CONCURRENCY", 5)
	sendTimeout = time.Duration(getEnvInt("LOAD_TEST_TIMEOUT_SECONDS", 30)) * time.Second
	sendInterval = time.Duration(getEnvInt("LOAD_TEST_INTERVAL_MS", 50)) * time.Millisecond
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// the body of a trigger message, the poller forwards it to the job untouched
type TriggerMessage struct {
	ID     string    `json:"id"`
	Ref    string    `json:"ref"`
	Commit string    `json:"commit"`
	SentAt time.Time `json:"sent_at"`
}

type Result struct {
	Success  bool
	Duration time.Duration
	Index    int
	QueueURL string
	Error    string
}

// UI Model
type model struct {
	spinner       spinner.Model
	progress      progress.Model
	totalMessages int
	sentMessages  int
	successful    int
	failed        int
	perQueue      map[string]int
	errors        []string
	avgLatency    time.Duration
	totalLatency  time.Duration
	startTime     time.Time
	isComplete    bool
	width         int
}

type resultMsg Result
type completeMsg struct{}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Background(lipgloss.Color("235")).
			Padding(0, 1).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("111"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2).
			MarginBottom(1)
)

func initialModel() model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		spinner:       s,
		progress:      progress.New(progress.WithDefaultGradient()),
		totalMessages: numberOfMessages,
		perQueue:      make(map[string]int, len(queueURLs)),
		errors:        make([]string, 0),
		startTime:     time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = msg.Width - 4
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case resultMsg:
		m.sentMessages++
		m.totalLatency += msg.Duration
		m.avgLatency = m.totalLatency / time.Duration(m.sentMessages)

		if msg.Success {
			m.successful++
			m.perQueue[msg.QueueURL]++
		} else {
			m.failed++
			m.errors = append([]string{fmt.Sprintf("#%d %s", msg.Index, msg.Error)}, m.errors...)
			if len(m.errors) > 5 {
				m.errors = m.errors[:5]
			}
		}
		return m, nil

	case completeMsg:
		m.isComplete = true
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("SQS trigger load test"))
	b.WriteString("\n")

	status := m.spinner.View() + " sending"
	if m.isComplete {
		status = successStyle.Render("done") + " (press q to quit)"
	}
	b.WriteString(status + "\n\n")

	pct := 0.0
	if m.totalMessages > 0 {
		pct = float64(m.sentMessages) / float64(m.totalMessages)
	}
	b.WriteString(m.progress.ViewAs(pct) + "\n\n")

	elapsed := time.Since(m.startTime).Seconds()
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(m.successful) / elapsed
	}

	stats := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("sent"), valueStyle.Render(strconv.Itoa(m.sentMessages)),
		labelStyle.Render("ok"), successStyle.Render(strconv.Itoa(m.successful)),
		labelStyle.Render("failed"), errorStyle.Render(strconv.Itoa(m.failed)),
		labelStyle.Render("avg"), valueStyle.Render(m.avgLatency.Round(time.Millisecond).String()),
		labelStyle.Render("msg/s"), valueStyle.Render(fmt.Sprintf("%.1f", throughput)),
	)
	b.WriteString(boxStyle.Render(stats) + "\n")

	var queues strings.Builder
	for _, u := range queueURLs {
		queues.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render(u), valueStyle.Render(strconv.Itoa(m.perQueue[u]))))
	}
	b.WriteString(boxStyle.Render(strings.TrimRight(queues.String(), "\n")) + "\n")

	if len(m.errors) > 0 {
		b.WriteString(errorStyle.Render(strings.Join(m.errors, "\n")) + "\n")
	}
	return b.String()
}

var refs = []string{"main", "develop", "release/1.x", "feature/login", "hotfix/crash"}

func sendMessage(ctx context.Context, client *sqs.Client, rng *rand.Rand, index int) Result {
	queueURL := queueURLs[index%len(queueURLs)]

	body, err := json.Marshal(TriggerMessage{
		ID:     xid.New().String(),
		Ref:    refs[rng.Intn(len(refs))],
		Commit: fmt.Sprintf("%040x", rng.Uint64()),
		SentAt: time.Now(),
	})
	if err != nil {
		return Result{Index: index, QueueURL: queueURL, Error: fmt.Sprintf("JSON marshal error: %v", err)}
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	startTime := time.Now()
	_, err = client.SendMessage(sendCtx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"source": {DataType: aws.String("String"), StringValue: aws.String("loadtester")},
		},
	})
	duration := time.Since(startTime)

	if err != nil {
		return Result{Duration: duration, Index: index, QueueURL: queueURL, Error: err.Error()}
	}
	return Result{Success: true, Duration: duration, Index: index, QueueURL: queueURL}
}

func main() {
	// signal handling graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// aws
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Unable to load SDK config: %v\n", err)
		os.Exit(1)
	}

	client := sqs.NewFromConfig(cfg)

	p := tea.NewProgram(initialModel(), tea.WithAltScreen())

	go func() {
		jobs := make(chan int, numberOfMessages)
		results := make(chan Result, numberOfMessages)

		var wg sync.WaitGroup
		for w := 0; w < concurrency; w++ {
			wg.Add(1)
			go func(workerID int) {
				defer wg.Done()
				rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

				for {
					select {
					case index, ok := <-jobs:
						if !ok {
							return
						}
						time.Sleep(sendInterval)
						results <- sendMessage(ctx, client, rng, index)
					case <-ctx.Done():
						return
					}
				}
			}(w)
		}

		for i := 0; i < numberOfMessages; i++ {
			jobs <- i
		}
		close(jobs)

		go func() {
			wg.Wait()
			close(results)
		}()

		// forward results to UI
		for result := range results {
			p.Send(resultMsg(result))
		}
		p.Send(completeMsg{})
	}()

	go func() {
		<-sigChan
		cancel()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}
