package main

import (
	"strings"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
	"github.com/urfave/cli/v2"

	"github.com/luca-patrignani/edu-ledger/digest"
	"github.com/luca-patrignani/edu-ledger/ledger"
)

const (
	menuAddRecord  = "Add new student record"
	menuView       = "View all blocks"
	menuValidate   = "Verify blockchain integrity"
	menuFindRecord = "Verify student record"
	menuAddCert    = "Add certificate file"
	menuFindCert   = "Verify certificate file"
	menuExit       = "Exit"
)

var menu = []string{menuAddRecord, menuView, menuValidate, menuFindRecord, menuAddCert, menuFindCert, menuExit}

func runShell(c *cli.Context) error {
	chain, logger, err := setup(c)
	if err != nil {
		return err
	}

	pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("Edu", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("Ledger", pterm.FgDarkGray.ToStyle()),
	).Render()
	pterm.Info.Printfln("Loaded %d blocks from %s", chain.Len(), c.String("data"))

	for {
		choice, err := pterm.DefaultInteractiveSelect.WithDefaultText("Choose an action").WithOptions(menu).Show()
		if err != nil {
			return err
		}
		pterm.Println()

		switch choice {
		case menuAddRecord:
			name, roll, gpa, err := promptRecord()
			if err != nil {
				return err
			}
			b, err := chain.AddRecord(name, roll, gpa)
			if err != nil {
				logger.Error("record appended but not saved", "index", b.Index, "error", err)
				continue
			}
			pterm.Success.Printfln("Record added in block %d", b.Index)
		case menuView:
			for _, b := range chain.Blocks() {
				pterm.Println(blockBox(b))
			}
		case menuValidate:
			pterm.Println(reportBox(chain.Validate()))
		case menuFindRecord:
			name, roll, gpa, err := promptRecord()
			if err != nil {
				return err
			}
			pterm.Info.Printfln("Fingerprint: %s", recordFingerprint(name, roll, gpa))
			printLookup(chain.FindRecord(name, roll, gpa))
		case menuAddCert:
			path, err := prompt("Path to certificate file")
			if err != nil {
				return err
			}
			fp, _, err := fingerprintFile(path)
			if err != nil {
				pterm.Error.Println(err.Error())
				continue
			}
			b, err := chain.Commit(ledger.KindCertificate, fp.String())
			if err != nil {
				logger.Error("certificate appended but not saved", "index", b.Index, "error", err)
				continue
			}
			pterm.Success.Printfln("Certificate %s added in block %d", fp.Short(), b.Index)
		case menuFindCert:
			path, err := prompt("Path to certificate file")
			if err != nil {
				return err
			}
			fp, _, err := fingerprintFile(path)
			if err != nil {
				pterm.Error.Println(err.Error())
				continue
			}
			printLookup(chain.FindCertificate(fp))
		case menuExit:
			return saveAndExit(chain)
		}
	}
}

func saveAndExit(chain *ledger.Blockchain) error {
	spinner, _ := pterm.DefaultSpinner.Start("Saving the blockchain ...")
	if err := chain.Persist(); err != nil {
		spinner.Fail()
		return err
	}
	spinner.Success("Blockchain saved")
	return nil
}

func prompt(text string) (string, error) {
	v, err := pterm.DefaultInteractiveTextInput.WithDefaultText(text).Show()
	pterm.Println()
	return strings.TrimSpace(v), err
}

func promptRecord() (name, roll, gpa string, err error) {
	if name, err = prompt("Student name"); err != nil {
		return
	}
	if roll, err = prompt("Roll number"); err != nil {
		return
	}
	gpa, err = prompt("GPA")
	return
}

// recordFingerprint is shown next to lookups so users can compare by eye.
func recordFingerprint(name, roll, gpa string) string {
	return digest.Record(name, roll, gpa).Short()
}
