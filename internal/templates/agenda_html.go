package templates

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

type AgendaItem struct {
	Time  string
	Title string
	Color string
}

type AgendaEmailData struct {
	Nickname string
	Date     string
	Week     int
	Items    []AgendaItem
}

const agendaHTML = `
<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8"/>
  <title>Your day</title>
  <style>
    body {
      margin: 0;
      padding: 0;
      font-family: Arial, sans-serif;
      background-color: #fdf6f7;
      color: #333;
    }
    .email-container {
      width: 100%;
      max-width: 600px;
      margin: 0 auto;
      background-color: #ffffff;
      border-radius: 6px;
      overflow: hidden;
      box-shadow: 0 2px 5px rgba(0,0,0,0.1);
    }
    .header {
      background-color: #e88fa2;
      padding: 20px;
      text-align: center;
      color: #fff;
    }
    .header h1 {
      margin: 0;
      font-size: 22px;
    }
    .content {
      padding: 20px;
    }
    .item {
      padding: 8px 0;
      border-bottom: 1px solid #eee;
    }
    .dot {
      display: inline-block;
      width: 10px;
      height: 10px;
      border-radius: 50%;
      margin-right: 8px;
    }
    .time {
      font-weight: bold;
      margin-right: 8px;
    }
    .footer {
      font-size: 12px;
      color: #999;
      text-align: center;
      padding: 10px 20px;
    }
  </style>
</head>
<body>
  <table class="email-container" role="presentation" cellspacing="0" cellpadding="0">
    <tr>
      <td>
        <div class="header">
          <h1>{{.Date}}</h1>
          {{if .Week}}<p>Week {{.Week}}</p>{{end}}
        </div>

        <div class="content">
          {{if .Nickname}}
            <p>Good morning, {{.Nickname}}.</p>
          {{else}}
            <p>Good morning.</p>
          {{end}}
          <p>Here is what's on your calendar today:</p>
          {{range .Items}}
            <div class="item">
              <span class="dot" style="background-color: {{.Color}}"></span>
              <span class="time">{{.Time}}</span>{{.Title}}
            </div>
          {{end}}
        </div>

        <div class="footer">
          <p>You can turn these reminders off in your profile.</p>
        </div>
      </td>
    </tr>
  </table>
</body>
</html>
`

var agendaTmpl = template.Must(template.New("agenda").Parse(agendaHTML))

func RenderAgendaHTML(data AgendaEmailData) (string, error) {
	var buf bytes.Buffer
	if err := agendaTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderAgendaText is the plain-text body used for email fallbacks and SMS.
func RenderAgendaText(data AgendaEmailData) string {
	var b strings.Builder
	b.WriteString(data.Date)
	if data.Week > 0 {
		fmt.Fprintf(&b, " (week %d)", data.Week)
	}
	b.WriteString("\n")
	for _, it := range data.Items {
		fmt.Fprintf(&b, "%s %s\n", it.Time, it.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}
