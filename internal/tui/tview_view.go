package tui

import (
	"fmt"
	"log"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lowaak/train-control/internal/train"
)

const instructions = "[yellow]D[white] Discovery  |  [yellow]Enter[white] Connect/Disconnect  |  [yellow]X[white] Disconnect  |  [yellow]R[white] Remove\n" +
	"[yellow]A[white] Connect all  |  [yellow]Z[white] Disconnect all  |  [yellow]S[white] Stop all  |  [yellow]+[white]/[yellow]-[white] Power  |  [yellow]C[white] Color  |  [yellow]Q[white] Quit"

var trainColumns = []string{"Name", "Address", "State", "Battery", "Distance", "Motors", "LED"}

// TviewView renders the dashboard with tview: the fleet table and status on
// the left, the log tail on the right.
type TviewView struct {
	logger *log.Logger
	app    *tview.Application

	mainFlex   *tview.Flex
	trainTable *tview.Table
	statusText *tview.TextView
	logView    *tview.TextView
}

func NewTviewView(app *tview.Application, logger *log.Logger) *TviewView {
	if app == nil {
		panic("TviewView: app cannot be nil")
	}
	if logger == nil {
		panic("TviewView: logger cannot be nil")
	}
	return &TviewView{app: app, logger: logger}
}

func (ui *TviewView) Initialize(controller *Controller) {
	// The log view is redrawn by BaseView; a changed func calling app.Draw
	// can hang during shutdown.
	ui.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	ui.logView.SetBorder(true).SetTitle(" Logs ")

	instructionsText := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText(instructions)

	ui.statusText = tview.NewTextView().
		SetDynamicColors(true)
	ui.statusText.SetBorder(true).SetTitle(" Status ")

	ui.trainTable = tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	ui.trainTable.SetBorder(true).SetTitle(" Trains ")
	ui.trainTable.SetSelectedFunc(func(row, _ int) {
		controller.TrainSelected(row - 1)
	})
	ui.setHeader()

	left := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(instructionsText, 2, 0, false).
		AddItem(ui.statusText, 3, 0, false).
		AddItem(ui.trainTable, 0, 1, true)

	ui.mainFlex = tview.NewFlex().
		AddItem(left, 0, 3, true).
		AddItem(ui.logView, 0, 2, false)
}

func (ui *TviewView) setHeader() {
	for col, title := range trainColumns {
		ui.trainTable.SetCell(0, col, tview.NewTableCell(title).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false).
			SetExpansion(1))
	}
}

// selectedIndex returns the train index of the highlighted row.
func (ui *TviewView) selectedIndex() int {
	row, _ := ui.trainTable.GetSelection()
	return row - 1
}

func (ui *TviewView) SetupKeyboardHandlers(controller *Controller) {
	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape:
			controller.Quit()
			return nil
		case tcell.KeyRune:
		default:
			return event
		}

		index := ui.selectedIndex()
		switch event.Rune() {
		case 'q':
			controller.Quit()
		case 'd':
			controller.ToggleDiscovery()
		case 'x':
			controller.Disconnect(index)
		case 'r':
			controller.Remove(index)
		case 'a':
			controller.ConnectAll()
		case 'z':
			controller.DisconnectAll()
		case 's':
			controller.StopAll()
		case '+', '=':
			controller.IncreasePower(index)
		case '-':
			controller.DecreasePower(index)
		case 'c':
			controller.CycleColor(index)
		default:
			return event
		}
		return nil
	})
}

func (ui *TviewView) SetTrains(trains []train.Train) {
	selected := ui.selectedIndex()
	var selectedAddress string
	if selected >= 0 && selected+1 < ui.trainTable.GetRowCount() {
		selectedAddress = ui.trainTable.GetCell(selected+1, 1).Text
	}

	ui.trainTable.Clear()
	ui.setHeader()
	for i, t := range trains {
		row := i + 1
		for col, text := range trainRow(t) {
			ui.trainTable.SetCell(row, col, tview.NewTableCell(text).SetExpansion(1))
		}
		if t.Address == selectedAddress {
			ui.trainTable.Select(row, 0)
		}
	}
	if selectedAddress == "" && len(trains) > 0 {
		ui.trainTable.Select(1, 0)
	}
}

func trainRow(t train.Train) []string {
	state := "[gray]offline[white]"
	if t.Online {
		state = "[green]online[white]"
	}
	return []string{
		t.Name,
		t.Address,
		state,
		fmt.Sprintf("%d", t.Battery),
		fmt.Sprintf("%.2f", t.Distance),
		formatMotors(t),
		fmt.Sprintf("[#%02x%02x%02x]■[white]", t.Color.R, t.Color.G, t.Color.B),
	}
}

func formatMotors(t train.Train) string {
	text := ""
	for _, p := range t.SortedPorts() {
		if !p.IsMotor() {
			continue
		}
		if text != "" {
			text += " "
		}
		text += fmt.Sprintf("%d:%+d", p.ID, p.Power)
	}
	if text == "" {
		return "-"
	}
	return text
}

func (ui *TviewView) SetDiscovering(discovering bool) {
	if discovering {
		ui.statusText.SetText(" [green]●[white] Discovering LEGO hubs")
		return
	}
	ui.statusText.SetText(" [gray]●[white] Discovery off")
}

func (ui *TviewView) GetLogViewHeight() int {
	_, _, _, height := ui.logView.GetInnerRect()
	return height
}

func (ui *TviewView) ClearLogView() {
	ui.logView.Clear()
}

func (ui *TviewView) WriteLogLine(line string) error {
	_, err := fmt.Fprint(ui.logView, tview.Escape(line))
	return err
}

func (ui *TviewView) Draw() error {
	ui.app.Draw()
	return nil
}

// Run blocks until Stop.
func (ui *TviewView) Run() error {
	// SetRoot resets focus, so focus the table afterwards.
	ui.app.SetRoot(ui.mainFlex, true)
	ui.app.SetFocus(ui.trainTable)
	return ui.app.Run()
}

func (ui *TviewView) Stop() {
	ui.app.Stop()
}
