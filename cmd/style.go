package main

import (
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"github.com/luca-patrignani/edu-ledger/digest"
	"github.com/luca-patrignani/edu-ledger/ledger"
)

func chainTableData(blocks []ledger.Block, now time.Time) pterm.TableData {
	data := pterm.TableData{{"Index", "Time", "Age", "Kind", "Data", "Hash", "Prev Hash"}}
	for _, b := range blocks {
		data = append(data, []string{
			strconv.Itoa(b.Index),
			b.Time().Format(time.DateTime),
			humanize.RelTime(b.Time(), now, "ago", "from now"),
			string(b.Kind),
			shortPayload(b),
			digest.Fingerprint(b.Hash).Short(),
			digest.Fingerprint(b.PrevHash).Short(),
		})
	}
	return data
}

func shortPayload(b ledger.Block) string {
	if b.Kind == ledger.KindGenesis {
		return b.Payload
	}
	return digest.Fingerprint(b.Payload).Short()
}

func blockBox(b ledger.Block) string {
	pbox := pterm.DefaultBox.WithLeftPadding(4).WithRightPadding(4).WithTopPadding(1).WithBottomPadding(1)
	return pbox.WithTitle(pterm.LightCyan("Block " + strconv.Itoa(b.Index))).WithTitleTopLeft().Sprintf(
		"Timestamp: %s\nKind: %s\nData: %s\nHash: %s\nPrev Hash: %s",
		b.Time().Format(time.DateTime), b.Kind, b.Payload, b.Hash, b.PrevHash,
	)
}

func reportBox(r ledger.Report) string {
	pbox := pterm.DefaultBox.WithLeftPadding(4).WithRightPadding(4).WithTopPadding(1).WithBottomPadding(1)
	if r.Valid {
		return pbox.WithTitle(pterm.LightGreen("|VALID|")).WithTitleTopCenter().Sprint("Blockchain is valid and untampered.")
	}
	var msg string
	switch r.Reason {
	case ledger.ReasonHashMismatch:
		msg = pterm.Sprintf("Block %d hash has been changed!", r.Index)
	case ledger.ReasonLinkMismatch:
		msg = pterm.Sprintf("Block %d's previous hash doesn't match block %d's hash!", r.Index, r.Index-1)
	default:
		msg = pterm.Sprintf("Block %d is out of place (%s)", r.Index, r.Reason)
	}
	return pbox.WithTitle(pterm.LightRed("|TAMPERED|")).WithTitleTopCenter().Sprint(msg)
}
