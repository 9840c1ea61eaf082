package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/wfunc/homelink/internal/config"
	"github.com/wfunc/homelink/internal/errors"
	"github.com/wfunc/homelink/internal/logger"
	"github.com/wfunc/homelink/internal/protocol"
	"go.uber.org/zap"
)

// Commander 转发 MQTT 命令的目标，由 *Link 实现
type Commander interface {
	Exchange(ctx context.Context, line string) ([]protocol.StatusEntry, error)
}

// MQTTGateway 把状态快照发布到 MQTT，并把命令主题上的消息转发给控制器
type MQTTGateway struct {
	client    MQTT.Client
	cfg       config.MQTTConfig
	commander Commander
	timeout   time.Duration
	logger    *zap.Logger
}

// NewMQTTGateway 按配置创建 paho 客户端
func NewMQTTGateway(cfg config.MQTTConfig, commander Commander, timeout time.Duration) *MQTTGateway {
	g := &MQTTGateway{
		cfg:       cfg,
		commander: commander,
		timeout:   timeout,
		logger:    logger.WithModule("mqtt"),
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetAutoReconnect(cfg.AutoReconnect)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetWill(cfg.Topics.Status+"/online", "offline", cfg.QoS, true)
	opts.SetOnConnectHandler(g.onConnect)
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		g.logger.Warn("MQTT连接断开", zap.Error(err))
	})

	g.client = MQTT.NewClient(opts)
	return g
}

// newMQTTGatewayWithClient 使用外部客户端创建网关
func newMQTTGatewayWithClient(client MQTT.Client, cfg config.MQTTConfig, commander Commander, timeout time.Duration) *MQTTGateway {
	return &MQTTGateway{
		client:    client,
		cfg:       cfg,
		commander: commander,
		timeout:   timeout,
		logger:    logger.WithModule("mqtt"),
	}
}

// Connect 连接服务器，订阅在连接回调中完成
func (g *MQTTGateway) Connect() error {
	token := g.client.Connect()
	if !token.WaitTimeout(g.waitTimeout()) {
		return errors.Newf(errors.ErrMQTTConnect, "连接 %s 超时", g.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, errors.ErrMQTTConnect, "连接 %s", g.cfg.Broker)
	}
	return nil
}

// onConnect 每次连接或重连后重新订阅命令主题
func (g *MQTTGateway) onConnect(client MQTT.Client) {
	g.logger.Info("MQTT已连接", zap.String("broker", g.cfg.Broker))

	client.Publish(g.cfg.Topics.Status+"/online", g.cfg.QoS, true, "online")

	token := client.Subscribe(g.cfg.Topics.Command, g.cfg.QoS, g.handleCommand)
	if token.Wait() && token.Error() != nil {
		g.logger.Error("订阅命令主题失败",
			zap.String("topic", g.cfg.Topics.Command),
			zap.Error(errors.Wrap(token.Error(), errors.ErrMQTTSubscribe)))
	}
}

// handleCommand 命令消息的负载即协议行，只接受 get_status 和 toggle_<id>
func (g *MQTTGateway) handleCommand(_ MQTT.Client, msg MQTT.Message) {
	line := strings.TrimSpace(string(msg.Payload()))
	logger.LogMQTTMessage(msg.Topic(), "receive", line)

	// 一条消息只对应一行命令
	if strings.ContainsAny(line, "\r\n") {
		g.logger.Warn("忽略多行MQTT命令", zap.String("payload", line))
		return
	}

	cmd := protocol.Parse(line)
	var wire string
	switch cmd.Kind {
	case protocol.KindGetStatus:
		wire = protocol.FormatGetStatus()
	case protocol.KindToggle:
		wire = protocol.FormatToggle(strings.TrimPrefix(line, "toggle_"))
	default:
		g.logger.Warn("忽略未知MQTT命令", zap.String("payload", line))
		return
	}

	// paho 回调中不能阻塞，交互放到单独的协程
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()
		if _, err := g.commander.Exchange(ctx, wire); err != nil {
			g.logger.Warn("MQTT命令执行失败", zap.String("command", line), zap.Error(err))
		}
	}()
}

// PublishStatus 发布状态快照
func (g *MQTTGateway) PublishStatus(entries []protocol.StatusEntry) {
	if !g.client.IsConnected() {
		return
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		g.logger.Error("编码状态失败", zap.Error(err))
		return
	}

	token := g.client.Publish(g.cfg.Topics.Status, g.cfg.QoS, g.cfg.Retained, payload)
	go func() {
		if token.WaitTimeout(g.waitTimeout()) && token.Error() != nil {
			g.logger.Warn("发布状态失败", zap.Error(errors.Wrap(token.Error(), errors.ErrMQTTPublish)))
		}
	}()
	logger.LogMQTTMessage(g.cfg.Topics.Status, "publish", string(payload))
}

func (g *MQTTGateway) waitTimeout() time.Duration {
	if g.cfg.ConnectTimeout > 0 {
		return g.cfg.ConnectTimeout
	}
	return 10 * time.Second
}

// Close 发布离线状态并断开连接
func (g *MQTTGateway) Close() {
	if g.client.IsConnected() {
		g.client.Publish(g.cfg.Topics.Status+"/online", g.cfg.QoS, true, "offline").WaitTimeout(time.Second)
		g.client.Disconnect(250)
	}
}
