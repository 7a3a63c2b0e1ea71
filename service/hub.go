package service

import (
	"log"
	"sync"
)

// ProgressEvent 推送给订阅者的进度消息，不落库。
// Seq 是项目内单调递增的序号，同一订阅者收到的事件顺序与发布顺序一致。
type ProgressEvent struct {
	ProjectID string `json:"project_id"`
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Seq       uint64 `json:"seq"`
}

const eventBuffer = 16

// Hub 按项目分组的进度广播。进程级注册表，生命周期与请求无关；
// 订阅前已发布的事件不补发。订阅者之间互不影响（扇出，非抢占）。
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan ProgressEvent]struct{}
	seq  map[string]uint64
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan ProgressEvent]struct{}),
		seq:  make(map[string]uint64),
	}
}

// Subscribe 订阅某项目的进度事件，返回事件通道和取消函数。
// 取消后通道会被关闭。
func (h *Hub) Subscribe(projectID string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, eventBuffer)

	h.mu.Lock()
	if h.subs[projectID] == nil {
		h.subs[projectID] = make(map[chan ProgressEvent]struct{})
	}
	h.subs[projectID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[projectID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, projectID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish 广播一条进度事件。只由流水线执行器调用。
// 订阅者缓冲满时丢弃该订阅者的这条事件，绝不阻塞流水线。
func (h *Hub) Publish(projectID, stage, status, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq[projectID]++
	ev := ProgressEvent{
		ProjectID: projectID,
		Stage:     stage,
		Status:    status,
		Message:   message,
		Seq:       h.seq[projectID],
	}

	for ch := range h.subs[projectID] {
		select {
		case ch <- ev:
		default:
			log.Printf("[Hub] 订阅者缓冲已满，丢弃事件: project=%s seq=%d", projectID, ev.Seq)
		}
	}
}

// SubscriberCount 当前项目的订阅者数量（没有订阅者不代表项目不活跃）
func (h *Hub) SubscriberCount(projectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[projectID])
}
