package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/leaseq/leaseq/leaseqd"
)

// newHTTPRouter builds the daemon's local operator surface: stats,
// lifecycle (create/purge/delete queue and channel), and a thin push/get/
// ack surface for smoke-testing a queue without a client library. This is
// explicitly not a wire protocol for remote producers/consumers (spec
// non-goals) — just the same kind of local httprouter-based admin
// interface nsqd exposes alongside its real TCP protocol.
func newHTTPRouter(p *program) http.Handler {
	r := httprouter.New()
	r.GET("/ping", p.handlePing)
	r.GET("/stats", p.handleStats)
	r.POST("/queue/create", p.handleQueueCreate)
	r.POST("/queue/purge", p.handleQueuePurge)
	r.POST("/queue/delete", p.handleQueueDelete)
	r.POST("/channel/create", p.handleChannelCreate)
	r.POST("/queue/push", p.handlePush)
	r.GET("/queue/get", p.handleGet)
	r.POST("/queue/ack", p.handleAck)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (p *program) handlePing(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (p *program) handleStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p.queuesLock.RLock()
	defer p.queuesLock.RUnlock()

	stats := make([]leaseqd.QueueStats, 0, len(p.queues))
	for _, q := range p.queues {
		stats = append(stats, q.Stats())
	}
	writeJSON(w, http.StatusOK, stats)
}

func (p *program) handleQueueCreate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	name := r.URL.Query().Get("queue")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing queue param")
		return
	}
	q, err := p.getOrCreateQueue(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, q.Stats())
}

func (p *program) handleQueuePurge(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	name := r.URL.Query().Get("queue")
	q, ok := p.lookupQueue(name)
	if !ok {
		writeError(w, http.StatusNotFound, "queue not found")
		return
	}
	if err := q.Purge(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (p *program) handleQueueDelete(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	name := r.URL.Query().Get("queue")
	if err := p.deleteQueue(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (p *program) handleChannelCreate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	name := r.URL.Query().Get("queue")
	channel := r.URL.Query().Get("channel")
	q, ok := p.lookupQueue(name)
	if !ok {
		writeError(w, http.StatusNotFound, "queue not found")
		return
	}
	if _, err := q.CreateChannel(channel); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (p *program) handlePush(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	name := r.URL.Query().Get("queue")
	q, ok := p.lookupQueue(name)
	if !ok {
		writeError(w, http.StatusNotFound, "queue not found")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := q.Push(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"id": uint64(id)})
}

func (p *program) handleGet(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	name := r.URL.Query().Get("queue")
	channel := r.URL.Query().Get("channel")
	q, ok := p.lookupQueue(name)
	if !ok {
		writeError(w, http.StatusNotFound, "queue not found")
		return
	}
	msg, available, err := q.Get(channel)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !available {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":   uint64(msg.ID),
		"body": string(msg.Body),
	})
}

func (p *program) handleAck(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	name := r.URL.Query().Get("queue")
	channel := r.URL.Query().Get("channel")
	q, ok := p.lookupQueue(name)
	if !ok {
		writeError(w, http.StatusNotFound, "queue not found")
		return
	}

	var req struct {
		ID uint64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acked, err := q.Ack(channel, leaseqd.MessageID(req.ID))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if !acked {
		w.WriteHeader(http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}
