package spjs

import (
	"encoding/json"
	"strings"
)

type SerialPort struct {
	Name         string
	Friendly     string
	IsOpen       bool
	SerialNumber string
	VID          string `json:"UsbVid"`
	PID          string `json:"UsbPid"`
}

type SerialPortMatcher func(SerialPort) bool

// MatchVIDPID returns a SerialPortMatcher that returns true if the usb vendor and product IDs match.
func MatchVIDPID(vid, pid string) SerialPortMatcher {
	return func(sp SerialPort) bool {
		return strings.EqualFold(sp.VID, vid) && strings.EqualFold(sp.PID, pid)
	}
}

// MatchName returns a SerialPortMatcher for the port name.
func MatchName(name string) SerialPortMatcher {
	return func(sp SerialPort) bool { return sp.Name == name }
}

type SendJSON struct {
	Port string `json:"P"`
	Data []SendJSONData
}
type SendJSONData struct {
	Data string `json:"D"`
	ID   string `json:"Id"`
}

type SPJSData struct {
	Version     string
	Commands    []string
	Hostname    string
	SerialPorts []SerialPort

	P         string
	D         string
	Cmd       string
	ID        string `json:"Id"`
	ErrorCode string

	Port string
	QCnt int
}

func (c *Client) portByName(name string) *Port {
	ports := <-c.ports
	c.ports <- ports
	for _, p := range ports {
		portName, _ := p.Name()
		if portName != name {
			continue
		}
		return p
	}

	return nil
}

func (c *Client) updatePorts(serialPorts []SerialPort) {
	<-c.serialPorts
	c.serialPorts <- serialPorts

	ports := <-c.ports
	c.ports <- ports

	// open matching ports
	for _, sp := range serialPorts {
		if sp.IsOpen {
			continue
		}
		for _, port := range ports {
			if !port.match(sp) {
				continue
			}
			err := port.open(sp.Name)
			if err != nil {
				c.log.Error("open port", "port", sp.Name, "err", err)
			}
			break
		}
	}
}

func (c *Client) readLoop() {
	for {
		var dataStr string
		select {
		case <-c.doneCh:
			return
		case dataStr = <-c.dataCh:
		}
		c.handleMessage(dataStr)
	}
}

func (c *Client) handleMessage(dataStr string) {
	c.log.Debug("read", "data", dataStr)
	if !strings.HasPrefix(dataStr, "{") {
		return
	}
	var data SPJSData
	err := json.Unmarshal([]byte(dataStr), &data)
	if err != nil {
		c.log.Error("parse SPJS payload", "data", dataStr, "err", err)
		return
	}

	if data.SerialPorts != nil {
		c.updatePorts(data.SerialPorts)
		return
	}

	if data.P != "" && data.Cmd == "" && data.D != "" {
		port := c.portByName(data.P)
		if port == nil {
			return
		}
		port.handleData(data.D)
		return
	}

	switch data.Cmd {
	case "Error":
		c.log.Warn("server error", "id", data.ID, "code", data.ErrorCode)
	case "WipedQueue", "Close":
		c.log.Info("port "+strings.ToLower(data.Cmd), "port", data.Port)
	}
}
