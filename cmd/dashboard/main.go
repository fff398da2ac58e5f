// Command dashboard is a small HTTP+WebSocket front end over the
// diagnostic engine, grounded on the teacher's main.go (mux router,
// gorilla/websocket upgrader, clients map guarded by a mutex,
// broadcastTelemetry, a one-second ticker pushing live readings, and
// signal-driven graceful shutdown). It exposes spec §6's operation
// surface (list_ecus, read_dtcs, read_pid, ...) over REST and streams
// PidSample/Dtc events to connected browsers over /ws.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/anodyne74/bmw-kwp-engine/internal/capture"
	"github.com/anodyne74/bmw-kwp-engine/internal/catalog"
	"github.com/anodyne74/bmw-kwp-engine/internal/config"
	"github.com/anodyne74/bmw-kwp-engine/internal/engine"
	"github.com/anodyne74/bmw-kwp-engine/internal/port"
	"github.com/anodyne74/bmw-kwp-engine/internal/scheduler"
	"github.com/anodyne74/bmw-kwp-engine/internal/services"
	"github.com/anodyne74/bmw-kwp-engine/internal/timing"
	"github.com/anodyne74/bmw-kwp-engine/testing/mockport"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Telemetry is one broadcast snapshot for an opened ECU.
type Telemetry struct {
	EcuID     string                `json:"ecuId"`
	Dtcs      []services.Dtc        `json:"dtcs,omitempty"`
	Pids      []services.PidSample  `json:"pids,omitempty"`
	Error     string                `json:"error,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

var (
	clients    = make(map[*websocket.Conn]bool)
	clientsMux sync.Mutex
)

func wsHandler(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("dashboard: websocket upgrade error: %v", err)
		return
	}

	clientsMux.Lock()
	clients[ws] = true
	clientsMux.Unlock()

	defer func() {
		clientsMux.Lock()
		delete(clients, ws)
		clientsMux.Unlock()
		ws.Close()
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}

func broadcastTelemetry(t Telemetry) {
	clientsMux.Lock()
	defer clientsMux.Unlock()

	payload, err := json.Marshal(t)
	if err != nil {
		log.Printf("dashboard: marshal telemetry: %v", err)
		return
	}
	for client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("dashboard: send to client: %v", err)
			client.Close()
			delete(clients, client)
		}
	}
}

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "config.yaml", "path to configuration file")
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		log.Fatalf("dashboard: loading config: %v", err)
	}
	engCfg, err := cfg.EngineConfig()
	if err != nil {
		log.Fatalf("dashboard: building engine config: %v", err)
	}

	clock := timing.SystemClock{}
	sched := scheduler.New(clock, engCfg.P3Min)
	go sched.Run()
	defer sched.Stop()

	kPort, cBus := openPorts(cfg)
	eng := engine.New(catalog.NewDefault(), sched, clock, engCfg, kPort, cBus)

	var recorder *capture.Recorder
	if cfg.Capture.Enabled {
		recorder = capture.NewRecorder("dashboard session")
		if err := recorder.Start(); err != nil {
			log.Printf("dashboard: starting capture: %v", err)
			recorder = nil
		} else {
			defer func() {
				if err := recorder.Stop(); err != nil {
					log.Printf("dashboard: stopping capture: %v", err)
				}
			}()
		}
	}

	router := mux.NewRouter()
	router.HandleFunc("/ws", wsHandler)
	registerAPI(router, eng, recorder)

	addr := cfg.ServerAddr()
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Printf("dashboard: listening on http://%s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("dashboard: http server: %v", err)
		}
	}()

	go pollLoop(eng, recorder)

	keepaliveStop := make(chan struct{})
	go eng.RunKeepalive(keepaliveStop)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("dashboard: shutting down")
	close(keepaliveStop)
	clientsMux.Lock()
	for client := range clients {
		client.Close()
		delete(clients, client)
	}
	clientsMux.Unlock()
	server.Close()
}

// openPorts builds the K-Line and D-CAN ports per cfg, returning the
// scripted mockport test doubles when testing.use_mock is set. Otherwise
// a port that is disabled or fails to open is returned as nil.
func openPorts(cfg *config.Config) (port.DuplexPort, port.CanBus) {
	if cfg.Testing.UseMock {
		return mockport.New(), mockport.NewCanBus()
	}

	var kPort port.DuplexPort
	if cfg.Port.KLine.Enabled {
		p, err := port.OpenSerialPort(cfg.Port.KLine.Device, cfg.Port.KLine.Baud)
		if err != nil {
			log.Printf("dashboard: K-Line port unavailable: %v", err)
		} else {
			kPort = p
		}
	}

	var cBus port.CanBus
	if cfg.Port.DCan.Enabled {
		b, err := port.OpenCanBus(cfg.Port.DCan.Interface)
		if err != nil {
			log.Printf("dashboard: D-CAN bus unavailable: %v", err)
		} else {
			cBus = b
		}
	}
	return kPort, cBus
}

// registerAPI wires spec §6's operation surface onto REST routes, the
// way the teacher's router serves "/ws" plus a static file handler;
// here every route is a thin adapter over *engine.Engine.
func registerAPI(router *mux.Router, eng *engine.Engine, recorder *capture.Recorder) {
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/ecus", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, eng.ListEcus())
	}).Methods(http.MethodGet)

	api.HandleFunc("/ecus/{id}/open", func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := eng.OpenEcu(id, 0); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	api.HandleFunc("/ecus/{id}/close", func(w http.ResponseWriter, r *http.Request) {
		eng.Close(mux.Vars(r)["id"])
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	api.HandleFunc("/ecus/{id}/dtcs", func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		start := time.Now()
		dtcs, err := eng.ReadDTCs(id)
		recordExchange(recorder, id, 0x18, time.Since(start), err)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, dtcs)
	}).Methods(http.MethodGet)

	api.HandleFunc("/ecus/{id}/dtcs", func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := eng.ClearDTCs(id, 0); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	api.HandleFunc("/ecus/{id}/pid/{pid}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		pid, err := strconv.ParseUint(vars["pid"], 0, 8)
		if err != nil {
			http.Error(w, "bad pid", http.StatusBadRequest)
			return
		}
		start := time.Now()
		sample, err := eng.ReadPID(vars["id"], byte(pid))
		recordExchange(recorder, vars["id"], 0x21, time.Since(start), err)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, sample)
	}).Methods(http.MethodGet)

	api.HandleFunc("/ecus/{id}/routine/{name}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		resp, err := eng.RoutineControl(vars["id"], vars["name"], services.RoutineStart, nil)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"result": fmt.Sprintf("%x", resp)})
	}).Methods(http.MethodPost)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("dashboard: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func recordExchange(recorder *capture.Recorder, ecuID string, service byte, elapsed time.Duration, err error) {
	if recorder == nil {
		return
	}
	ex := capture.Exchange{
		Timestamp: time.Now(),
		EcuID:     ecuID,
		Service:   service,
		Duration:  elapsed,
	}
	if err != nil {
		ex.Err = err.Error()
	}
	if recErr := recorder.Record(ex); recErr != nil {
		log.Printf("dashboard: recording exchange: %v", recErr)
	}
}

// pollLoop mirrors the teacher's one-second telemetry ticker: for every
// ECU in the catalog it attempts a DTC read plus a batched read of PIDs
// 0x0C, 0x0D and 0x05 and broadcasts whatever comes back to connected
// dashboard clients. A DTC read error is surfaced on the Telemetry.Error
// field; a failed PID batch just leaves Telemetry.Pids empty.
func pollLoop(eng *engine.Engine, recorder *capture.Recorder) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		for _, desc := range eng.ListEcus() {
			t := Telemetry{EcuID: desc.ID, Timestamp: time.Now()}

			if dtcs, err := eng.ReadDTCs(desc.ID); err == nil {
				t.Dtcs = dtcs
			} else {
				t.Error = err.Error()
			}

			if samples, err := eng.ReadPIDs(desc.ID, []byte{0x0C, 0x0D, 0x05}); err == nil {
				t.Pids = samples
			}

			broadcastTelemetry(t)
		}
	}
}
