package agents

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/opentalon/idpportal/internal/config"
)

func TestKafkaCreateTopic(t *testing.T) {
	fk := &fakeKubectl{outputs: map[string]string{"apply": "kafkatopic.kafka.strimzi.io/orders created"}}
	tools := toolMap(t, newKafka(nil, fk.kubectl(), config.KafkaConfig{Namespace: "kafka", Cluster: "main"}))

	out := call(t, tools, "create_topic", map[string]any{"name": "orders", "partitions": float64(6)})
	last := fk.last()
	if last.args != "apply -f -" {
		t.Errorf("args = %q", last.args)
	}
	var manifest struct {
		Kind     string `json:"kind"`
		Metadata struct {
			Name      string            `json:"name"`
			Namespace string            `json:"namespace"`
			Labels    map[string]string `json:"labels"`
		} `json:"metadata"`
		Spec struct {
			Partitions int               `json:"partitions"`
			Replicas   int               `json:"replicas"`
			Config     map[string]string `json:"config"`
		} `json:"spec"`
	}
	if err := json.Unmarshal([]byte(last.stdin), &manifest); err != nil {
		t.Fatal(err)
	}
	if manifest.Kind != "KafkaTopic" || manifest.Metadata.Namespace != "kafka" || manifest.Metadata.Labels["strimzi.io/cluster"] != "main" {
		t.Errorf("manifest = %+v", manifest)
	}
	if manifest.Spec.Partitions != 6 || manifest.Spec.Replicas != 3 || manifest.Spec.Config["retention.ms"] != "604800000" {
		t.Errorf("spec = %+v", manifest.Spec)
	}
	if m := out.(map[string]any); m["status"] != "created" {
		t.Errorf("out = %v", m)
	}
}

func TestKafkaCreateRejectsZeroPartitions(t *testing.T) {
	fk := &fakeKubectl{}
	tools := toolMap(t, newKafka(nil, fk.kubectl(), config.KafkaConfig{Namespace: "kafka", Cluster: "main"}))
	if _, err := tools["create_topic"].Call(t.Context(), map[string]any{"name": "x", "partitions": float64(0)}); err == nil {
		t.Error("expected error")
	}
	if len(fk.calls) != 0 {
		t.Errorf("kubectl called %d times", len(fk.calls))
	}
}

func TestKafkaUpdateConfigPatch(t *testing.T) {
	fk := &fakeKubectl{}
	tools := toolMap(t, newKafka(nil, fk.kubectl(), config.KafkaConfig{Namespace: "kafka", Cluster: "main"}))

	call(t, tools, "update_topic_config", map[string]any{"name": "orders", "config": map[string]any{"retention.ms": float64(3600000)}})
	args := fk.last().args
	if !strings.HasPrefix(args, "patch kafkatopic orders -n kafka --type=merge -p ") {
		t.Errorf("args = %q", args)
	}
	if !strings.Contains(args, `{"spec":{"config":{"retention.ms":"3600000"}}}`) {
		t.Errorf("patch = %q", args)
	}
}

func TestKafkaListTopics(t *testing.T) {
	fk := &fakeKubectl{outputs: map[string]string{"get kafkatopics": `{"items":[
		{"metadata":{"name":"orders"},"spec":{"partitions":6,"replicas":3},"status":{"conditions":[{"type":"Ready","status":"True"}]}}]}`}}
	tools := toolMap(t, newKafka(nil, fk.kubectl(), config.KafkaConfig{Namespace: "kafka"}))

	topics := asJSON(t, call(t, tools, "list_topics", nil)).([]any)
	if len(topics) != 1 {
		t.Fatalf("topics = %v", topics)
	}
	if topic := topics[0].(map[string]any); topic["ready"] != "True" || topic["partitions"] != float64(6) {
		t.Errorf("topic = %v", topic)
	}
	if got := fk.last().args; got != "get kafkatopics -n kafka -o json" {
		t.Errorf("args = %q", got)
	}
}

func TestNewKafkaDisabled(t *testing.T) {
	if _, err := NewKafka(envWith(config.BackendsConfig{Kafka: config.KafkaConfig{Disabled: true}})); err == nil {
		t.Error("expected error")
	}
}
