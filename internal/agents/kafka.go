package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/opentalon/idpportal/internal/agents/kube"
	"github.com/opentalon/idpportal/internal/config"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
)

const (
	strimziAPIVersion = "kafka.strimzi.io/v1beta2"
	defaultRetention  = 604800000
)

const kafkaCharter = `You are a Kafka operations agent for the IDP Portal.
You manage Kafka topics through Strimzi KafkaTopic resources on Kubernetes: create, list, describe, update configuration and delete.
Describe a topic before changing or deleting it, and never delete a topic without an explicit request.`

// NewKafka builds the kafka agent on top of kubectl.
func NewKafka(env *orchestrator.Env) (orchestrator.Handler, error) {
	b := backends(env)
	if b.Kafka.Disabled {
		return nil, errors.New("kafka backend is disabled")
	}
	kc, err := kube.New(b.Kubernetes)
	if err != nil {
		return nil, err
	}
	return newKafka(env, kc, b.Kafka), nil
}

func newKafka(env *orchestrator.Env, kc *kube.Kubectl, cfg config.KafkaConfig) *orchestrator.ToolAgent {
	k := &kafkaTools{kc: kc, cfg: cfg}
	manifest := orchestrator.CapabilityManifest{
		Name:        "kafka",
		Description: "Manages Kafka topics via Strimzi KafkaTopic CRDs",
		Capabilities: []orchestrator.Capability{
			{Name: "topic_management", Description: "Create, list, describe, update, and delete Kafka topics",
				Tools: []string{"create_topic", "list_topics", "describe_topic", "update_topic_config", "delete_topic"}},
		},
	}
	ns := str("namespace", "Namespace of the KafkaTopic resources, default "+strconv.Quote(cfg.Namespace))
	name := required(str("name", "Topic name"))
	return orchestrator.NewToolAgent(env, manifest, kafkaCharter,
		orchestrator.NewTool("create_topic", "Create a Kafka topic", []provider.Parameter{
			name,
			integer("partitions", "Partition count, default 3"),
			integer("replication_factor", "Replica count, default 3"),
			integer("retention_ms", "Retention in milliseconds, default 7 days"),
			ns,
		}, k.create),
		orchestrator.NewTool("list_topics", "List Kafka topics", []provider.Parameter{ns}, k.list),
		orchestrator.NewTool("describe_topic", "Get partitions, replicas, config and conditions of a topic", []provider.Parameter{name, ns}, k.describe),
		orchestrator.NewTool("update_topic_config", "Update topic configuration such as retention.ms or cleanup.policy", []provider.Parameter{
			name, required(object("config", "Topic config keys and values")), ns,
		}, k.updateConfig),
		orchestrator.NewTool("delete_topic", "Delete a Kafka topic", []provider.Parameter{name, ns}, k.delete),
	)
}

type kafkaTools struct {
	kc  *kube.Kubectl
	cfg config.KafkaConfig
}

type kafkaTopic struct {
	Metadata objectMeta `json:"metadata"`
	Spec     struct {
		Partitions int               `json:"partitions"`
		Replicas   int               `json:"replicas"`
		Config     map[string]string `json:"config"`
	} `json:"spec"`
	Status struct {
		Conditions []condition `json:"conditions"`
	} `json:"status"`
}

func (k *kafkaTools) namespace(args map[string]any) string {
	return orchestrator.String(args, "namespace", k.cfg.Namespace)
}

func (k *kafkaTools) create(ctx context.Context, args map[string]any) (any, error) {
	partitions, err := orchestrator.Int(args, "partitions", 3)
	if err != nil {
		return nil, err
	}
	replicas, err := orchestrator.Int(args, "replication_factor", 3)
	if err != nil {
		return nil, err
	}
	retention, err := orchestrator.Int(args, "retention_ms", defaultRetention)
	if err != nil {
		return nil, err
	}
	if partitions < 1 || replicas < 1 {
		return nil, fmt.Errorf("partitions and replication_factor must be positive")
	}
	name := orchestrator.String(args, "name", "")
	topic := map[string]any{
		"apiVersion": strimziAPIVersion,
		"kind":       "KafkaTopic",
		"metadata": map[string]any{
			"name":      name,
			"namespace": k.namespace(args),
			"labels":    map[string]string{"strimzi.io/cluster": k.cfg.Cluster},
		},
		"spec": map[string]any{
			"partitions": partitions,
			"replicas":   replicas,
			"config":     map[string]string{"retention.ms": strconv.Itoa(retention)},
		},
	}
	out, err := k.kc.Apply(ctx, topic)
	if err != nil {
		return nil, err
	}
	return map[string]any{"name": name, "partitions": partitions, "replication_factor": replicas, "status": "created", "output": out}, nil
}

func (k *kafkaTools) list(ctx context.Context, args map[string]any) (any, error) {
	var list struct {
		Items []kafkaTopic `json:"items"`
	}
	if err := k.kc.GetJSON(ctx, &list, "get", "kafkatopics", "-n", k.namespace(args)); err != nil {
		return nil, err
	}
	type topic struct {
		Name       string `json:"name"`
		Partitions int    `json:"partitions"`
		Replicas   int    `json:"replicas"`
		Ready      string `json:"ready"`
	}
	out := make([]topic, 0, len(list.Items))
	for _, t := range list.Items {
		out = append(out, topic{
			Name:       t.Metadata.Name,
			Partitions: t.Spec.Partitions,
			Replicas:   t.Spec.Replicas,
			Ready:      conditionStatus(t.Status.Conditions, "Ready"),
		})
	}
	return out, nil
}

func (k *kafkaTools) describe(ctx context.Context, args map[string]any) (any, error) {
	var t kafkaTopic
	if err := k.kc.GetJSON(ctx, &t, "get", "kafkatopic", orchestrator.String(args, "name", ""), "-n", k.namespace(args)); err != nil {
		return nil, err
	}
	conds := t.Status.Conditions
	if conds == nil {
		conds = []condition{}
	}
	cfg := t.Spec.Config
	if cfg == nil {
		cfg = map[string]string{}
	}
	return map[string]any{
		"name":       t.Metadata.Name,
		"partitions": t.Spec.Partitions,
		"replicas":   t.Spec.Replicas,
		"config":     cfg,
		"conditions": conds,
	}, nil
}

func (k *kafkaTools) updateConfig(ctx context.Context, args map[string]any) (any, error) {
	raw, _ := args["config"].(map[string]any)
	if len(raw) == 0 {
		return nil, errors.New("config must be a non-empty object")
	}
	cfg := stringMap(raw)
	patch, err := json.Marshal(map[string]any{"spec": map[string]any{"config": cfg}})
	if err != nil {
		return nil, fmt.Errorf("marshal patch: %w", err)
	}
	name := orchestrator.String(args, "name", "")
	out, err := k.kc.Run(ctx, "patch", "kafkatopic", name, "-n", k.namespace(args), "--type=merge", "-p", string(patch))
	if err != nil {
		return nil, err
	}
	return map[string]any{"name": name, "updated_config": cfg, "output": out}, nil
}

func (k *kafkaTools) delete(ctx context.Context, args map[string]any) (any, error) {
	name := orchestrator.String(args, "name", "")
	out, err := k.kc.Run(ctx, "delete", "kafkatopic", name, "-n", k.namespace(args))
	if err != nil {
		return nil, err
	}
	return map[string]any{"name": name, "status": "deleted", "output": out}, nil
}
