package calib

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ImageMessage is the MQTT payload published for every checked image
type ImageMessage struct {
	PoseIndex     int         `json:"poseIndex"`
	Name          string      `json:"name"`
	Status        ImageStatus `json:"status"`
	Error         string      `json:"error,omitempty"`
	MeanMagnitude *float64    `json:"meanMagnitude"`
	StdMagnitude  *float64    `json:"stdMagnitude"`
	MeanGrade     string      `json:"meanGrade,omitempty"`
	StdGrade      string      `json:"stdGrade,omitempty"`
	Matched       int         `json:"matched"`
	Timestamp     int64       `json:"timestamp"`
}

// SummaryMessage is the MQTT payload published after a check run
type SummaryMessage struct {
	Mode             Mode           `json:"mode"`
	CalibrationError float64        `json:"calibrationError"`
	OK               int            `json:"ok"`
	Failed           int            `json:"failed"`
	Images           []ImageMessage `json:"images"`
	Timestamp        int64          `json:"timestamp"`
}

// Publisher publishes check progress to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	thresholds    Thresholds
	qos           byte
	retain        bool
	last          map[int]ImageMessage
	mu            sync.RWMutex
}

// NewPublisher creates a new progress publisher
// If client is nil, publishing is disabled (for testing)
func NewPublisher(client mqtt.Client, prefix string, t Thresholds) *Publisher {
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		thresholds:    t,
		qos:           0,
		retain:        true,
		last:          make(map[int]ImageMessage),
	}
}

// NewImageMessage converts an image result to its MQTT payload
func NewImageMessage(r ImageResult, t Thresholds) ImageMessage {
	msg := ImageMessage{
		PoseIndex:     r.PoseIndex,
		Name:          r.Name,
		Status:        r.Status,
		Error:         r.Err,
		MeanMagnitude: finiteOrNil(r.Summary.MeanMagnitude),
		StdMagnitude:  finiteOrNil(r.Summary.StdMagnitude),
		Matched:       r.Matched,
		Timestamp:     time.Now().Unix(),
	}
	if r.OK() {
		msg.MeanGrade = Classify(r.Summary.MeanMagnitude, t).String()
		msg.StdGrade = Classify(r.Summary.StdMagnitude, t).String()
	}
	return msg
}

// ImageTopic returns the topic an image result is published to
func (p *Publisher) ImageTopic(poseIndex int) string {
	return fmt.Sprintf("%s/images/%02d", p.publishPrefix, poseIndex)
}

// SummaryTopic returns the topic run summaries are published to
func (p *Publisher) SummaryTopic() string {
	return fmt.Sprintf("%s/summary", p.publishPrefix)
}

// PublishImage publishes the result of one image
func (p *Publisher) PublishImage(r ImageResult) error {
	msg := NewImageMessage(r, p.thresholds)

	p.mu.Lock()
	p.last[r.PoseIndex] = msg
	p.mu.Unlock()

	return p.publishJSON(p.ImageTopic(r.PoseIndex), msg)
}

// PublishSummary publishes the outcome of a whole run
func (p *Publisher) PublishSummary(res *BatchResult) error {
	ok, failed := res.Counts()
	summary := SummaryMessage{
		Mode:             res.Mode,
		CalibrationError: res.CalibrationError,
		OK:               ok,
		Failed:           failed,
		Images:           make([]ImageMessage, 0, len(res.Images)),
		Timestamp:        time.Now().Unix(),
	}
	for _, img := range res.Images {
		summary.Images = append(summary.Images, NewImageMessage(img, p.thresholds))
	}
	return p.publishJSON(p.SummaryTopic(), summary)
}

// ReportProgress publishes each image as it is checked. Publish errors are
// logged; they never interrupt a check run.
func (p *Publisher) ReportProgress(imageIndex int, r ImageResult) {
	if err := p.PublishImage(r); err != nil {
		log.Printf("Error publishing result of image %d: %v", r.PoseIndex, err)
	}
}

func (p *Publisher) publishJSON(topic string, v interface{}) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastImage returns the last published message for a pose index
func (p *Publisher) LastImage(poseIndex int) (ImageMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	msg, ok := p.last[poseIndex]
	return msg, ok
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
