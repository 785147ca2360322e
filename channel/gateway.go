package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/personaflow/bot"
)

// Config 网关行为配置
type Config struct {
	// PaceInterval 同一轮多条回复之间的最小发送间隔，
	// 模拟自然的打字节奏。零值表示不限速。
	PaceInterval time.Duration
}

// Gateway 把 WebSocket 连接上的聊天事件交给调度器处理，并把
// 回复写回同一连接。每个连接一个读循环；写操作通过 mutex 保护，
// 因为 WebSocket 不支持并发写。
type Gateway struct {
	cfg        Config
	dispatcher *bot.Dispatcher
	logger     *zap.Logger
}

// NewGateway 创建网关。
func NewGateway(cfg Config, dispatcher *bot.Dispatcher, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("component", "gateway")),
	}
}

// ServeHTTP 将 HTTP 请求升级为 WebSocket 并进入事件循环。
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	g.logger.Info("connection opened", zap.String("remote", r.RemoteAddr))
	g.serveConn(r.Context(), conn)
	g.logger.Info("connection closed", zap.String("remote", r.RemoteAddr))
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex // 保护写操作
}

func (c *wsConn) write(ctx context.Context, ev OutboundEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (g *Gateway) serveConn(ctx context.Context, conn *websocket.Conn) {
	c := &wsConn{conn: conn}
	defer conn.Close(websocket.StatusNormalClosure, "closing")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var ev InboundEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			g.logger.Warn("malformed event", zap.Error(err))
			continue
		}
		if ev.Type != EventText {
			g.logger.Debug("ignoring non-text event", zap.String("type", string(ev.Type)))
			continue
		}

		userID := ev.SenderID()
		out := g.dispatcher.HandleTurn(ctx, userID, ev.Content)
		if err := g.deliver(ctx, c, userID, out); err != nil {
			g.logger.Warn("reply delivery failed",
				zap.String("user_id", userID),
				zap.Error(err))
			return
		}
	}
}

// deliver 把一轮结果写回连接。人设回复按段落拆分并限速发送，
// 控制与错误回复整条发送，空文本不发送。
func (g *Gateway) deliver(ctx context.Context, c *wsConn, userID string, out bot.Outcome) error {
	segments := segmentsFor(out)
	if len(segments) == 0 {
		return nil
	}

	limiter := rate.NewLimiter(paceLimit(g.cfg.PaceInterval), 1)
	for i, seg := range segments {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		ev := OutboundEvent{
			ToUserID: userID,
			Content:  seg,
			Final:    i == len(segments)-1,
		}
		if err := c.write(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// segmentsFor 决定一轮结果对应的出站消息序列。
func segmentsFor(out bot.Outcome) []string {
	if out.Text == "" {
		return nil
	}
	if out.Kind == bot.OutcomePersona {
		return bot.SplitParagraphs(out.Text)
	}
	return []string{out.Text}
}

func paceLimit(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}
